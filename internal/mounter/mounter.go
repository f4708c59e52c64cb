// Package mounter implements the platform-specific half of the mount
// engine: classifying an output container, enumerating the volumes it
// holds, mounting a leaf filesystem read-only and retiring materialized
// layers again. The orchestration on top lives in internal/engine.
package mounter

import (
	"fmt"

	"github.com/diskrescue/imgmount/internal/cmdrun"
	"github.com/diskrescue/imgmount/internal/container"
)

// Mounter is the capability contract each platform implements. All
// methods drive external host tools through a cmdrun.Runner and are
// safe to call for a single mount/unmount flow at a time.
type Mounter interface {
	// Classify determines what kind of container the path holds.
	// ok is false when probing failed or the user declined to answer.
	Classify(path string) (kind container.Kind, ok bool)

	// ListChildren enumerates the child volumes of a non-partition
	// container. Layers materialized along the way (loop mappings,
	// activated volume groups) are recorded on state before any
	// further step is attempted, so teardown has a record even on
	// partial failure. The returned choices are unordered.
	ListChildren(state *container.MountState, path string, kind container.Kind) ([]container.VolumeChoice, error)

	// MountLeaf performs the final read-only filesystem mount of the
	// given device (a device path on Linux, a partition number or the
	// image path itself on macOS) and sets state.MountPoint.
	MountLeaf(state *container.MountState, device string) error

	// UnmountFilesystem unmounts the filesystem at the given mount
	// point. Not mounted is a successful no-op.
	UnmountFilesystem(mountPoint string) error

	// UnmountLayer retires one materialized layer: pulls down a loop
	// mapping, deactivates a volume group, or detaches a disk image.
	// A layer with nothing to retire is a successful no-op.
	UnmountLayer(state *container.MountState, layer container.Layer) error
}

// Selector asks the user to pick one of several options. ok is false
// when the user cancels.
type Selector interface {
	Choose(prompt string, options []string) (selected string, ok bool)
}

// New creates the mounter for the given platform.
func New(platform container.Platform, runner cmdrun.Runner, selector Selector, mountBase string) (Mounter, error) {
	switch platform {
	case container.PlatformLinux:
		return NewLinux(runner, selector, mountBase), nil
	case container.PlatformMac:
		return NewMac(runner), nil
	default:
		return nil, fmt.Errorf("unknown platform: %s (use 'linux' or 'macos')", platform)
	}
}
