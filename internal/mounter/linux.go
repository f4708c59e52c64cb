package mounter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/diskrescue/imgmount/internal/cmdrun"
	"github.com/diskrescue/imgmount/internal/container"
	"github.com/diskrescue/imgmount/internal/log"
	"github.com/diskrescue/imgmount/internal/mounttab"
	"github.com/diskrescue/imgmount/internal/validation"
)

// partitionTables is the set of partition table types parted can report
// that mark a container as a whole device.
var partitionTables = map[string]bool{
	"msdos": true, "gpt": true, "mac": true, "pc98": true, "sun": true,
	"dvh": true, "bsd": true, "amiga": true, "aix": true, "atari": true,
}

// classifyChoices are offered when probing cannot settle the container
// kind. Order matters: indexes map to kinds below.
var classifyChoices = []string{
	"Partition (single file system or CD/DVD image)",
	"Device (multiple partitions)",
	"LUKS (encrypted storage) Container",
	"LVM Container",
}

var classifyKinds = []container.Kind{
	container.KindPartition,
	container.KindDevice,
	container.KindLUKS,
	container.KindLVM,
}

// Linux drives parted, kpartx, lsblk, the LVM tools and mount/umount.
type Linux struct {
	runner    cmdrun.Runner
	selector  Selector
	mountBase string

	// loadTable reads the kernel mount table, replaceable in tests
	loadTable func() (mounttab.Table, error)
}

// NewLinux creates the Linux mounter. Mount points are created under
// mountBase.
func NewLinux(runner cmdrun.Runner, selector Selector, mountBase string) *Linux {
	return &Linux{
		runner:    runner,
		selector:  selector,
		mountBase: mountBase,
		loadTable: mounttab.Load,
	}
}

// Classify determines the container kind by probing the partition
// table, then the LUKS header, then the LVM signature, and finally by
// asking the user.
func (m *Linux) Classify(path string) (container.Kind, bool) {
	code, output := m.runner.Run("parted -m "+path+" print", true)
	if code != 0 {
		log.Error("partition table probe failed", "path", path, "code", code)
		return container.KindUnknown, false
	}

	kind := container.KindUnknown

	switch table := partedTableType(output); {
	case table == "loop":
		// parted reports a bare filesystem as a "loop" table
		kind = container.KindPartition
	case partitionTables[table]:
		kind = container.KindDevice
	}

	if kind == container.KindUnknown {
		if code, _ := m.runner.Run("cryptsetup isLuks "+path, true); code == 0 {
			kind = container.KindLUKS
		} else if _, output := m.runner.Run("file -s "+path, true); strings.Contains(output, "LVM") {
			kind = container.KindLVM
		}
	}

	if kind == container.KindUnknown {
		log.Debug("probing inconclusive, asking the user", "path", path)
		answer, ok := m.selector.Choose(
			"What type of file/device did you recover from?", classifyChoices)
		if !ok {
			return container.KindUnknown, false
		}

		for i, choice := range classifyChoices {
			if answer == choice {
				kind = classifyKinds[i]
				break
			}
		}
		if kind == container.KindUnknown {
			return container.KindUnknown, false
		}
	}

	return kind, true
}

// partedTableType extracts the partition table type from parted's
// machine-readable output. Data lines end with a semicolon; the first
// one that isn't the "BYT;" preamble describes the disk, with the table
// type in the sixth colon-separated field. Stray parted errors mixed
// into the output are skipped.
func partedTableType(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		if !strings.HasSuffix(line, ";") || strings.Contains(line, "BYT;") {
			continue
		}

		fields := strings.Split(strings.TrimSuffix(line, ";"), ":")
		if len(fields) > 5 {
			return fields[5]
		}
		return ""
	}
	return ""
}

// ListChildren enumerates the child volumes of a device, LVM or LUKS
// container.
func (m *Linux) ListChildren(state *container.MountState, path string, kind container.Kind) ([]container.VolumeChoice, error) {
	switch kind {
	case container.KindDevice:
		return m.listPartitions(path)
	case container.KindLVM:
		return m.listLogicalVolumes(state, path)
	case container.KindLUKS:
		// LUKS enumeration is not implemented; the caller treats an
		// empty list as unmountable
		log.Warn("LUKS child enumeration is not supported", "path", path)
		return nil, nil
	default:
		return nil, fmt.Errorf("container kind %s has no child volumes", kind)
	}
}

// listPartitions lists the partitions of a whole-device container. A
// regular file is first exposed through a kpartx loop mapping so each
// partition gets a device-mapper node.
func (m *Linux) listPartitions(path string) ([]container.VolumeChoice, error) {
	target := path
	loopUsed := false

	if !strings.Contains(path, "/dev/") {
		log.Info("creating loop mapping for image file", "path", path)
		loopUsed = true

		code, output := m.runner.Run("kpartx -av "+path, true)
		if code != 0 {
			return nil, fmt.Errorf("create loop mapping for %s: exit %d (output: %q)",
				path, code, strings.TrimSpace(output))
		}

		loopDevice, err := loopDeviceFromKpartx(output)
		if err != nil {
			return nil, fmt.Errorf("parse kpartx output: %w", err)
		}
		target = loopDevice

		// Re-probe so the kernel notices the new partition nodes
		m.runner.Run("partprobe", true)
	}

	code, output := m.runner.Run("lsblk -J -o NAME,FSTYPE,SIZE", true)
	if code != 0 {
		return nil, fmt.Errorf("list block devices: exit %d (output: %q)",
			code, strings.TrimSpace(output))
	}

	devices, err := parseLsblk(output)
	if err != nil {
		return nil, fmt.Errorf("parse lsblk output: %w", err)
	}

	var choices []container.VolumeChoice
	for _, device := range devices {
		// Ignore devices other than the one holding our image
		if device.Name != target && "/dev/"+device.Name != target {
			continue
		}

		for _, child := range device.Children {
			fsType := child.FSType
			if fsType == "" {
				fsType = "None"
			}

			devicePath := "/dev/" + child.Name
			if loopUsed {
				devicePath = "/dev/mapper/" + child.Name
			}

			choices = append(choices, container.VolumeChoice{
				Label: "Partition " + child.Name +
					", Filesystem: " + fsType +
					", Size: " + child.Size,
				DeviceOrName: devicePath,
				Size:         child.Size,
				Filesystem:   fsType,
			})
		}
	}

	return choices, nil
}

// loopDeviceFromKpartx extracts the loop device name from kpartx -av
// output. The first line names the first mapped partition, e.g.
// "add map loop1p1 (253:0): 0 251904 linear 7:1 2048"; dropping the
// trailing partition suffix leaves the loop device itself.
func loopDeviceFromKpartx(output string) (string, error) {
	lines := strings.Split(output, "\n")
	fields := strings.Fields(lines[0])
	if len(fields) < 3 {
		return "", fmt.Errorf("unexpected kpartx output %q", lines[0])
	}

	parts := strings.Split(fields[2], "p")
	if len(parts) < 2 {
		return "", fmt.Errorf("no partition mapping in %q", fields[2])
	}

	return strings.Join(parts[:2], "p"), nil
}

// lsblkDevice mirrors one node of lsblk's JSON block device tree
type lsblkDevice struct {
	Name     string        `json:"name"`
	FSType   string        `json:"fstype"`
	Size     string        `json:"size"`
	Children []lsblkDevice `json:"children"`
}

// parseLsblk decodes lsblk -J output, dropping any diagnostic lines
// lsblk mixes into it.
func parseLsblk(output string) ([]lsblkDevice, error) {
	var clean []string
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "lsblk:") {
			clean = append(clean, line)
		}
	}

	var tree struct {
		BlockDevices []lsblkDevice `json:"blockdevices"`
	}
	if err := json.Unmarshal([]byte(strings.Join(clean, "\n")), &tree); err != nil {
		return nil, err
	}

	return tree.BlockDevices, nil
}

// listLogicalVolumes lists the logical volumes of an LVM physical
// volume. A regular file is bound to a loop device first, then the
// owning volume group is discovered and activated. The activated group
// is recorded on the innermost layer so teardown can deactivate it.
func (m *Linux) listLogicalVolumes(state *container.MountState, path string) ([]container.VolumeChoice, error) {
	pvDevice := path

	if !strings.Contains(path, "/dev/") {
		code, output := m.runner.Run("losetup --find --show "+path, true)
		if code != 0 {
			return nil, fmt.Errorf("bind %s to a loop device: exit %d (output: %q)",
				path, code, strings.TrimSpace(output))
		}
		pvDevice = strings.TrimSpace(output)
		log.Info("bound image file to loop device", "path", path, "device", pvDevice)
	}

	code, output := m.runner.Run("pvs", true)
	if code != 0 {
		return nil, fmt.Errorf("list physical volumes: exit %d (output: %q)",
			code, strings.TrimSpace(output))
	}

	groupName := ""
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, pvDevice) {
			fields := strings.Fields(line)
			if len(fields) > 1 {
				groupName = fields[1]
			}
		}
	}
	if groupName == "" {
		return nil, fmt.Errorf("no volume group found for %s", pvDevice)
	}

	state.SetVolumeGroup(groupName)
	log.Info("activating volume group", "group", groupName)

	if code, output := m.runner.Run("vgchange -a y "+groupName, true); code != 0 {
		return nil, fmt.Errorf("activate volume group %s: exit %d (output: %q)",
			groupName, code, strings.TrimSpace(output))
	}

	code, output = m.runner.Run("lvdisplay -C --units M", true)
	if code != 0 {
		return nil, fmt.Errorf("list logical volumes: exit %d (output: %q)",
			code, strings.TrimSpace(output))
	}

	var choices []container.VolumeChoice
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, groupName) {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}

		choices = append(choices, container.VolumeChoice{
			Label:        "Volume " + fields[0] + ", Size: " + fields[3],
			DeviceOrName: "/dev/" + groupName + "/" + fields[0],
			Size:         fields[3],
		})
	}

	return choices, nil
}

// MountLeaf mounts the device read-only at the fixed mount point
// derived from the original container path. Mounting is a no-op when
// the device already occupies its mount point; anything else in the way
// is unmounted first.
func (m *Linux) MountLeaf(state *container.MountState, device string) error {
	target := m.mountPointFor(state.OutermostPath())

	table, err := m.loadTable()
	if err != nil {
		return fmt.Errorf("read mount table: %w", err)
	}

	if table.MountPointOf(device) == target {
		log.Debug("already mounted", "device", device, "target", target)
		state.MountPoint = target
		return nil
	}

	if other := table.DeviceAt(target); other != "" {
		log.Warn("unmounting filesystem in the way", "target", target, "device", other)
		if err := m.UnmountFilesystem(target); err != nil {
			return fmt.Errorf("mount point %s is busy: %w", target, err)
		}
	}

	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("create mount point: %w", err)
	}

	log.Info("mounting read-only", "device", device, "target", target)

	code, output := m.runner.Run("mount -r "+device+" "+target, true)
	if code != 0 {
		return fmt.Errorf("mount %s at %s: exit %d (output: %q)",
			device, target, code, strings.TrimSpace(output))
	}

	state.MountPoint = target
	return nil
}

// UnmountFilesystem unmounts the given mount point if it is mounted.
func (m *Linux) UnmountFilesystem(mountPoint string) error {
	table, err := m.loadTable()
	if err != nil {
		return fmt.Errorf("read mount table: %w", err)
	}

	if !table.Has(mountPoint) {
		log.Debug("not mounted, nothing to do", "target", mountPoint)
		return nil
	}

	code, output := m.runner.Run("umount "+mountPoint, true)
	if code != 0 {
		return fmt.Errorf("unmount %s: exit %d (output: %q)",
			mountPoint, code, strings.TrimSpace(output))
	}

	return nil
}

// UnmountLayer retires one materialized layer.
func (m *Linux) UnmountLayer(state *container.MountState, layer container.Layer) error {
	switch layer.Kind {
	case container.KindDevice:
		// kpartx -d succeeds even when no loop mapping was created
		log.Debug("pulling down loop mapping", "device", layer.Device)
		code, output := m.runner.Run("kpartx -d "+layer.Device, true)
		if code != 0 {
			return fmt.Errorf("pull down loop mapping for %s: exit %d (output: %q)",
				layer.Device, code, strings.TrimSpace(output))
		}

	case container.KindLVM:
		if layer.Group == "" {
			// The volume group was never discovered or activated
			return nil
		}
		log.Debug("deactivating volume group", "group", layer.Group)
		code, output := m.runner.Run("vgchange -a n "+layer.Group, true)
		if code != 0 {
			return fmt.Errorf("deactivate volume group %s: exit %d (output: %q)",
				layer.Group, code, strings.TrimSpace(output))
		}
	}

	// Partition layers need nothing beyond the filesystem unmount;
	// LUKS mounting is unimplemented so there is never a mapping to close
	return nil
}

// mountPointFor returns the fixed mount point for a container path.
func (m *Linux) mountPointFor(path string) string {
	return filepath.Join(m.mountBase, validation.MountDirName(path))
}
