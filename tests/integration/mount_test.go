//go:build integration

package integration

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMountPartitionImage(t *testing.T) {
	image := makePartitionImage(t)

	output, err := runImgmount(t, image)
	require.NoError(t, err, "output: %s", output)
	require.Contains(t, output, "Mounted read-only at "+mountBasePath)
	require.Contains(t, output, "Unmounted.")

	assertNothingMounted(t)
}

func TestMountPartitionImageTwice(t *testing.T) {
	image := makePartitionImage(t)

	for i := 0; i < 2; i++ {
		output, err := runImgmount(t, image)
		require.NoError(t, err, "run %d output: %s", i, output)
		require.Contains(t, output, "Unmounted.")
	}

	assertNothingMounted(t)
}

func TestMountDeviceImagePartitionSelection(t *testing.T) {
	image := makeDeviceImage(t)

	// Both partitions are listed; pick the first
	output, err := runImgmount(t, image, "1")
	require.NoError(t, err, "output: %s", output)
	require.Contains(t, output, "Partition", "both partitions should be offered")
	require.Contains(t, output, "Mounted read-only at "+mountBasePath)
	require.Contains(t, output, "Unmounted.")

	assertNothingMounted(t)

	// The loop mapping from kpartx must be gone too
	mappings, _ := testVM.Run("ls /dev/mapper/ | grep loop || true")
	require.Empty(t, strings.TrimSpace(mappings), "no device-mapper loop entries should remain")
}

func TestMountDeviceImageSelectionCancelled(t *testing.T) {
	image := makeDeviceImage(t)

	// EOF at the selection prompt cancels cleanly
	output, err := runImgmount(t, image)
	require.NoError(t, err, "a cancelled selection is not an error: %s", output)
	require.Contains(t, output, "Cancelled.")

	assertNothingMounted(t)
}

func TestMountLVMImage(t *testing.T) {
	image := makeLVMImage(t)

	output, err := runImgmount(t, image, "1")
	require.NoError(t, err, "output: %s", output)
	require.Contains(t, output, "Volume data", "the logical volume should be offered")
	require.Contains(t, output, "Mounted read-only at "+mountBasePath)
	require.Contains(t, output, "Unmounted.")

	assertNothingMounted(t)

	// Teardown must have deactivated the volume group again
	active, _ := testVM.Run("sudo lvs --noheadings -o lv_active vgtest 2>/dev/null || true")
	require.NotContains(t, active, "active", "vgtest should be deactivated after the run")
}

func TestMountMissingFileFails(t *testing.T) {
	output, err := runImgmount(t, "/home/fedora/no-such-image.img")
	require.Error(t, err)
	require.Contains(t, output, "error:")

	assertNothingMounted(t)
}

func TestMountEmptyFileFails(t *testing.T) {
	image := uniqueImagePath(t)
	cleanupImage(t, image)
	_, err := testVM.Run("touch " + image)
	require.NoError(t, err)

	output, err := runImgmount(t, image)
	require.Error(t, err, "an empty recovery image is rejected up front")
	require.Contains(t, output, "error:")
}

func TestMountUnrecognizedImageFails(t *testing.T) {
	image := uniqueImagePath(t)
	cleanupImage(t, image)
	_, err := testVM.Run("dd if=/dev/urandom of=" + image + " bs=1M count=4 status=none")
	require.NoError(t, err)

	// Random data has no recognizable partition table, so probing fails
	output, err := runImgmount(t, image)
	require.Error(t, err, "output: %s", output)

	assertNothingMounted(t)
}
