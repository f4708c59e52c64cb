// Package container holds the data model for mountable output containers:
// the container kinds the engine understands, the stack of materialized
// layers built while descending into one, and the mount state owned by a
// single mount/unmount cycle.
package container

import "runtime"

// Kind classifies what an output file or device contains.
type Kind string

const (
	// KindPartition is a single filesystem (or CD/DVD image)
	KindPartition Kind = "Partition"
	// KindDevice is a whole disk holding a partition table
	KindDevice Kind = "Device"
	// KindLVM is an LVM physical volume holding logical volumes
	KindLVM Kind = "LVM"
	// KindLUKS is an encrypted LUKS container
	KindLUKS Kind = "LUKS"
	// KindUnknown means classification failed or was declined
	KindUnknown Kind = "Unknown"
)

// Platform selects which set of host tools the engine drives.
type Platform string

const (
	PlatformLinux Platform = "linux"
	PlatformMac   Platform = "macos"
)

// DetectPlatform returns the platform for the current host.
func DetectPlatform() Platform {
	if runtime.GOOS == "darwin" {
		return PlatformMac
	}
	return PlatformLinux
}

// Layer is one level of materialized kernel state created while
// descending into a container: the original file or device itself, a
// loop mapping, or an activated volume group. Device names the thing a
// retirement command operates on; Group carries the volume group name
// once an LVM layer has been activated.
type Layer struct {
	Kind   Kind
	Device string
	Group  string
}

// LayerStack is an ordered sequence of layers, append-only while
// mounting and consumed in reverse while unmounting. The first element
// is always the outermost container (the original output file or
// device), the last is the innermost.
type LayerStack []Layer

// MountState is the complete state of one mount attempt. It is owned
// exclusively by the orchestrator executing the current mount or
// unmount call; at most one container is mounted through it at a time.
// MountPoint is non-empty exactly while a filesystem is mounted.
type MountState struct {
	MountPoint string
	Layers     LayerStack
}

// NewMountState returns an empty mount state.
func NewMountState() *MountState {
	return &MountState{}
}

// Push records a newly materialized layer.
func (s *MountState) Push(l Layer) {
	s.Layers = append(s.Layers, l)
}

// Mounted reports whether a filesystem is currently mounted.
func (s *MountState) Mounted() bool {
	return s.MountPoint != ""
}

// Empty reports whether nothing is mounted and no layers remain.
func (s *MountState) Empty() bool {
	return s.MountPoint == "" && len(s.Layers) == 0
}

// OutermostPath returns the path of the original output file or device,
// or an empty string if no layer has been recorded yet.
func (s *MountState) OutermostPath() string {
	if len(s.Layers) == 0 {
		return ""
	}
	return s.Layers[0].Device
}

// SetVolumeGroup tags the innermost layer with the name of the volume
// group that was activated for it.
func (s *MountState) SetVolumeGroup(name string) {
	if len(s.Layers) == 0 {
		return
	}
	s.Layers[len(s.Layers)-1].Group = name
}

// Reset returns the state to empty after a completed unmount.
func (s *MountState) Reset() {
	s.MountPoint = ""
	s.Layers = nil
}

// VolumeChoice is a human-presentable candidate child volume found
// inside a container.
type VolumeChoice struct {
	// Label is the line shown to the user
	Label string
	// DeviceOrName is what gets mounted when this choice is selected:
	// a device path on Linux, a partition number on macOS
	DeviceOrName string
	// Size is the reported size, in whatever unit the listing tool used
	Size string
	// Filesystem is the detected filesystem type, or "None"
	Filesystem string
}
