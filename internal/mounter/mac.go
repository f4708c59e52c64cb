package mounter

import (
	"fmt"
	"strconv"
	"strings"

	"howett.net/plist"

	"github.com/diskrescue/imgmount/internal/cmdrun"
	"github.com/diskrescue/imgmount/internal/container"
	"github.com/diskrescue/imgmount/internal/log"
)

// Mac drives hdiutil and diskutil. The OS picks both the device name
// and the mount point when an image is attached, so unlike Linux the
// engine only discovers them from hdiutil's plist responses.
type Mac struct {
	runner cmdrun.Runner
}

// NewMac creates the macOS mounter.
func NewMac(runner cmdrun.Runner) *Mac {
	return &Mac{runner: runner}
}

// imageInfo mirrors the parts of hdiutil imageinfo -plist the engine
// reads
type imageInfo struct {
	Partitions imagePartitionTable `plist:"partitions"`
}

type imagePartitionTable struct {
	BlockSize  int64            `plist:"block-size"`
	Partitions []imagePartition `plist:"partitions"`
}

type imagePartition struct {
	// Number is nil for filler entries that aren't real partitions
	Number *int  `plist:"partition-number"`
	Length int64 `plist:"partition-length"`
}

// attachResult mirrors hdiutil attach -plist output
type attachResult struct {
	SystemEntities []systemEntity `plist:"system-entities"`
}

type systemEntity struct {
	DevEntry   string `plist:"dev-entry"`
	MountPoint string `plist:"mount-point"`
}

// Classify inspects the image with hdiutil. An image described as a
// "whole disk" holds a single filesystem; anything else is treated as
// a device with a partition table. LUKS and LVM are not detectable on
// this platform.
func (m *Mac) Classify(path string) (container.Kind, bool) {
	code, output := m.hdiutil("imageinfo " + path + " -plist")
	if code != 0 {
		log.Error("disk image inspection failed", "path", path, "code", code)
		return container.KindUnknown, false
	}

	if strings.Contains(output, "whole disk") {
		return container.KindPartition, true
	}
	return container.KindDevice, true
}

// ListChildren enumerates the partitions of a device image from its
// imageinfo property list. Sizes are computed from the partition length
// and the image block size.
func (m *Mac) ListChildren(state *container.MountState, path string, kind container.Kind) ([]container.VolumeChoice, error) {
	if kind != container.KindDevice {
		return nil, fmt.Errorf("container kind %s is not supported on macOS", kind)
	}

	code, output := m.hdiutil("imageinfo " + path + " -plist")
	if code != 0 {
		return nil, fmt.Errorf("inspect %s: exit %d (output: %q)",
			path, code, strings.TrimSpace(output))
	}

	var info imageInfo
	if _, err := plist.Unmarshal([]byte(output), &info); err != nil {
		return nil, fmt.Errorf("parse imageinfo plist: %w", err)
	}

	var choices []container.VolumeChoice
	for _, part := range info.Partitions.Partitions {
		if part.Number == nil {
			continue
		}

		sizeMB := part.Length * info.Partitions.BlockSize / 1000000
		choices = append(choices, container.VolumeChoice{
			Label: fmt.Sprintf("Partition %d, with size %d MB",
				*part.Number, sizeMB),
			DeviceOrName: strconv.Itoa(*part.Number),
			Size:         fmt.Sprintf("%d MB", sizeMB),
		})
	}

	return choices, nil
}

// MountLeaf attaches the image read-only and recovers the device name
// and mount point the OS chose. device is either the original image
// path (single-filesystem images) or the partition number the user
// selected. The attached image device is recorded as a layer before the
// response is examined, so a failed mount can still be detached.
func (m *Mac) MountLeaf(state *container.MountState, device string) error {
	path := state.OutermostPath()

	code, output := m.hdiutil("attach " + path + " -readonly -plist")
	if code != 0 {
		return fmt.Errorf("attach %s: exit %d (output: %q)",
			path, code, strings.TrimSpace(output))
	}

	var result attachResult
	if _, err := plist.Unmarshal([]byte(output), &result); err != nil {
		return fmt.Errorf("parse attach plist: %w", err)
	}

	entities := result.SystemEntities
	if len(entities) == 0 {
		return fmt.Errorf("attach %s: no devices in response", path)
	}

	if device == path {
		// Whole-image attach. The mounted volume is the second entity
		// when the image carries a wrapper entry, otherwise the first.
		mounted := entities[0]
		if len(entities) > 1 {
			mounted = entities[1]
		}

		state.Push(container.Layer{Kind: container.KindDevice, Device: mounted.DevEntry})

		if mounted.MountPoint == "" {
			return fmt.Errorf("%s attached but has no mount point; the filesystem is unsupported or damaged",
				mounted.DevEntry)
		}
		state.MountPoint = mounted.MountPoint
		return nil
	}

	// Partition selection: hdiutil mounts every mountable partition in
	// the image, so find the one whose device suffix matches the chosen
	// partition number.
	state.Push(container.Layer{Kind: container.KindDevice, Device: entities[0].DevEntry})

	for _, entity := range entities {
		parts := strings.Split(entity.DevEntry, "s")
		if parts[len(parts)-1] != device {
			continue
		}
		if entity.MountPoint == "" {
			continue
		}

		state.MountPoint = entity.MountPoint
		return nil
	}

	return fmt.Errorf("partition %s of %s was not mounted; the filesystem is unsupported or damaged",
		device, path)
}

// UnmountFilesystem unmounts the given mount point if it is mounted.
func (m *Mac) UnmountFilesystem(mountPoint string) error {
	// The OS reports paths under /tmp as /private/tmp
	if strings.Contains(mountPoint, "/tmp") {
		mountPoint = strings.Replace(mountPoint, "/tmp", "/private/tmp", 1)
	}

	if !m.isMounted(mountPoint) {
		log.Debug("not mounted, nothing to do", "target", mountPoint)
		return nil
	}

	code, output := m.runner.Run("diskutil umount "+mountPoint, true)
	if code != 0 {
		return fmt.Errorf("unmount %s: exit %d (output: %q)",
			mountPoint, code, strings.TrimSpace(output))
	}

	return nil
}

// UnmountLayer detaches the disk image device backing a layer. Layers
// recording the image path rather than an attached device need nothing.
func (m *Mac) UnmountLayer(state *container.MountState, layer container.Layer) error {
	if !strings.Contains(layer.Device, "/dev") {
		return nil
	}

	log.Debug("detaching image device", "device", layer.Device)

	code, output := m.runner.Run("hdiutil detach "+layer.Device, true)
	if code != 0 {
		return fmt.Errorf("detach %s: exit %d (output: %q)",
			layer.Device, code, strings.TrimSpace(output))
	}

	return nil
}

// isMounted checks the mount table for a device or mount point.
func (m *Mac) isMounted(pathOrDevice string) bool {
	_, output := m.runner.Run("mount", false)

	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		// Lines look like "/dev/disk5s1 on /Volumes/foo (hfs, ...)"
		if fields[0] == pathOrDevice || fields[2] == pathOrDevice {
			return true
		}
	}

	return false
}

// hdiutil runs an hdiutil command, recovering once from the common
// "Resource temporarily unavailable" condition by detaching every disk
// listed by diskutil (failures there are expected and ignored) and
// retrying.
func (m *Mac) hdiutil(options string) (int, string) {
	code, output := m.runner.Run("hdiutil "+options, true)
	if code == 0 && !strings.Contains(output, "Resource temporarily unavailable") {
		return code, output
	}

	log.Warn("hdiutil reported busy resources, detaching stale disks", "options", options)

	_, list := m.runner.Run("diskutil list", false)
	for _, line := range strings.Split(list, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		parts := strings.Split(fields[0], "/")
		if len(parts) < 2 || parts[1] != "dev" {
			continue
		}

		log.Debug("detaching", "device", fields[0])
		m.runner.Run("hdiutil detach "+fields[0], true)
	}

	return m.runner.Run("hdiutil "+options, true)
}
