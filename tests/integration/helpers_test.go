//go:build integration

package integration

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// uniqueImagePath generates a per-test image path inside the VM
func uniqueImagePath(t *testing.T) string {
	return fmt.Sprintf("/home/fedora/%s-%d.img", strings.ToLower(t.Name()), time.Now().UnixNano()%10000)
}

// cleanupImage registers cleanup for an image and any leftover kernel
// state at test end
func cleanupImage(t *testing.T, path string) {
	t.Cleanup(func() {
		_, _ = testVM.Run(fmt.Sprintf("sudo umount %s/* 2>/dev/null || true", mountBasePath))
		_, _ = testVM.Run(fmt.Sprintf("sudo kpartx -d %s 2>/dev/null || true", path))
		_, _ = testVM.Run("sudo vgchange -a n vgtest 2>/dev/null; sudo losetup -D 2>/dev/null || true")
		_, _ = testVM.Run(fmt.Sprintf("rm -f %s", path))
	})
}

// makePartitionImage creates an image holding a bare ext4 filesystem
func makePartitionImage(t *testing.T) string {
	t.Helper()
	path := uniqueImagePath(t)
	cleanupImage(t, path)

	script := fmt.Sprintf(
		"dd if=/dev/zero of=%s bs=1M count=16 status=none && mkfs.ext4 -q -F %s", path, path)
	output, err := testVM.Run(script)
	require.NoError(t, err, "create partition image: %s", output)
	return path
}

// makeDeviceImage creates an image with an msdos label and two formatted
// partitions
func makeDeviceImage(t *testing.T) string {
	t.Helper()
	path := uniqueImagePath(t)
	cleanupImage(t, path)

	script := strings.Join([]string{
		fmt.Sprintf("dd if=/dev/zero of=%s bs=1M count=64 status=none", path),
		fmt.Sprintf("sudo parted -s %s mklabel msdos mkpart primary ext4 1MiB 30MiB mkpart primary ext4 30MiB 60MiB", path),
		fmt.Sprintf("loop=$(sudo kpartx -av %s | head -1 | awk '{print $3}' | sed 's/p[0-9]*$//')", path),
		"sudo mkfs.ext4 -q -F /dev/mapper/${loop}p1",
		"sudo mkfs.ext4 -q -F /dev/mapper/${loop}p2",
		fmt.Sprintf("sudo kpartx -d %s", path),
	}, " && ")
	output, err := testVM.Run(script)
	require.NoError(t, err, "create device image: %s", output)
	return path
}

// makeLVMImage creates an image holding an LVM physical volume with one
// formatted logical volume in volume group vgtest
func makeLVMImage(t *testing.T) string {
	t.Helper()
	path := uniqueImagePath(t)
	cleanupImage(t, path)

	script := strings.Join([]string{
		fmt.Sprintf("dd if=/dev/zero of=%s bs=1M count=64 status=none", path),
		fmt.Sprintf("loop=$(sudo losetup --find --show %s)", path),
		"sudo pvcreate -q $loop",
		"sudo vgcreate -q vgtest $loop",
		"sudo lvcreate -q -L 16M -n data vgtest",
		"sudo mkfs.ext4 -q -F /dev/vgtest/data",
		"sudo vgchange -q -a n vgtest",
		"sudo losetup -d $loop",
	}, " && ")
	output, err := testVM.Run(script)
	require.NoError(t, err, "create LVM image: %s", output)
	return path
}

// runImgmount runs the installed binary against an image with scripted
// stdin. Each line answers one prompt; stdin EOF triggers the final
// unmount. Returns combined output and the command error, if any.
func runImgmount(t *testing.T, image string, stdin ...string) (string, error) {
	t.Helper()

	input := ""
	for _, line := range stdin {
		input += line + `\n`
	}

	cmd := fmt.Sprintf("printf '%s' | sudo %s --no-notify -m %s %s",
		input, binaryInstallPath, mountBasePath, image)

	ctx := context.Background()
	return testVM.RunWithTimeout(ctx, cmd, runTimeout)
}

// assertNothingMounted verifies no filesystem is left under the mount base
func assertNothingMounted(t *testing.T) {
	t.Helper()
	output, _ := testVM.Run(fmt.Sprintf("grep %s /proc/mounts || true", mountBasePath))
	require.Empty(t, strings.TrimSpace(output), "mount base should be empty after the run")
}
