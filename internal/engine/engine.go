// Package engine drives the mount and unmount sequences for recovered
// output containers: classify the container, enumerate and select child
// volumes where needed, mount the chosen filesystem read-only, and
// unwind every materialized layer in reverse order on teardown. The
// platform-specific work is delegated to a mounter.Mounter.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/diskrescue/imgmount/internal/container"
	"github.com/diskrescue/imgmount/internal/log"
	"github.com/diskrescue/imgmount/internal/mounter"
)

// Containers nest one level in practice (a device holding an LVM
// volume); deeper recursion means something is wrong.
const maxNestDepth = 4

const selectPrompt = "Please select which partition you wish to mount."

// Notifier reports an error message to the user, fire-and-forget.
type Notifier interface {
	ReportError(msg string)
}

// Engine orchestrates mount and unmount flows. It holds no mount state
// of its own: each Mount call returns the state it built, and that
// state is owned by the caller until handed back to Unmount. At most
// one container may be mounted through an Engine at a time.
type Engine struct {
	mounter  mounter.Mounter
	selector mounter.Selector
	notifier Notifier
}

// New creates an engine using the given platform mounter and
// collaborators.
func New(m mounter.Mounter, selector mounter.Selector, notifier Notifier) *Engine {
	return &Engine{
		mounter:  m,
		selector: selector,
		notifier: notifier,
	}
}

// Mount mounts the output container at path and returns the resulting
// state. On failure everything materialized has been torn down again
// unless the returned error is a TeardownError, in which case the state
// keeps the layers still in place.
func (e *Engine) Mount(path string) (*container.MountState, error) {
	log.Info("mounting output container", "path", path)

	state := container.NewMountState()
	err := e.descend(state, path, 0)
	if err == nil {
		log.Info("output container mounted", "path", path, "mountPoint", state.MountPoint)
		return state, nil
	}

	// One automatic fallback: a container whose children cannot be
	// enumerated may still be a mountable bare filesystem.
	var enumErr *EnumerationError
	if errors.As(err, &enumErr) {
		log.Warn("no child volumes found, retrying as a plain partition", "path", path)

		state = container.NewMountState()
		state.Push(container.Layer{Kind: container.KindPartition, Device: path})

		if leafErr := e.mounter.MountLeaf(state, path); leafErr != nil {
			log.Debug("partition fallback failed", "path", path, "error", leafErr)
			if terr := e.unwind(state); terr != nil {
				e.report(terr)
				return state, terr
			}
			e.report(err)
			return state, err
		}

		log.Info("output container mounted via partition fallback",
			"path", path, "mountPoint", state.MountPoint)
		return state, nil
	}

	e.report(err)
	return state, err
}

// Unmount unmounts the filesystem and retires every materialized layer
// in reverse order. Calling it on an empty state is a no-op. On failure
// the state keeps the layers that are still materialized.
func (e *Engine) Unmount(state *container.MountState) error {
	err := e.unwind(state)
	if err != nil {
		e.report(err)
	}
	return err
}

// descend runs the mount state machine for one container, recursing
// when a selected child volume is itself a container. Each failure path
// unwinds whatever this call and its parents materialized.
func (e *Engine) descend(state *container.MountState, path string, depth int) error {
	if depth > maxNestDepth {
		if terr := e.unwind(state); terr != nil {
			return terr
		}
		return &ClassificationError{
			Path: path,
			Err:  fmt.Errorf("containers nested more than %d levels deep", maxNestDepth),
		}
	}

	kind, ok := e.mounter.Classify(path)
	if !ok {
		if terr := e.unwind(state); terr != nil {
			return terr
		}
		return &ClassificationError{Path: path}
	}

	log.Info("classified container", "path", path, "kind", kind)
	state.Push(container.Layer{Kind: kind, Device: path})

	if kind == container.KindPartition {
		if err := e.mounter.MountLeaf(state, path); err != nil {
			if terr := e.unwind(state); terr != nil {
				return terr
			}
			return &MountError{Device: path, Err: err}
		}
		return nil
	}

	choices, err := e.mounter.ListChildren(state, path, kind)
	if err != nil || len(choices) == 0 {
		if terr := e.unwind(state); terr != nil {
			return terr
		}
		return &EnumerationError{Path: path, Kind: kind, Err: err}
	}

	// Listing tools report volumes in no reliable order
	sort.Slice(choices, func(i, j int) bool {
		return choices[i].Label < choices[j].Label
	})

	labels := make([]string, len(choices))
	for i, c := range choices {
		labels[i] = c.Label
	}

	selected, ok := e.selector.Choose(selectPrompt, labels)
	if !ok {
		log.Info("selection cancelled, cleaning up", "path", path)
		if terr := e.unwind(state); terr != nil {
			return terr
		}
		return ErrCancelled
	}

	var choice container.VolumeChoice
	for _, c := range choices {
		if c.Label == selected {
			choice = c
			break
		}
	}

	if nestedContainer(kind, choice) {
		log.Info("selected volume is itself a container",
			"device", choice.DeviceOrName, "filesystem", choice.Filesystem)
		return e.descend(state, choice.DeviceOrName, depth+1)
	}

	if err := e.mounter.MountLeaf(state, choice.DeviceOrName); err != nil {
		if terr := e.unwind(state); terr != nil {
			return terr
		}
		return &MountError{Device: choice.DeviceOrName, Err: err}
	}
	return nil
}

// nestedContainer reports whether a selected child volume must be
// descended into rather than mounted directly. Only partitions of a
// whole device can hold a further container.
func nestedContainer(kind container.Kind, choice container.VolumeChoice) bool {
	if kind != container.KindDevice {
		return false
	}
	return strings.Contains(choice.Filesystem, "LVM") ||
		strings.Contains(choice.Filesystem, "crypto_LUKS")
}

// unwind unmounts the filesystem, then retires layers from innermost to
// outermost. It halts on the first hard failure so the remaining state
// reflects what is actually still materialized; on full success the
// state is reset to empty.
func (e *Engine) unwind(state *container.MountState) error {
	if state == nil || state.Empty() {
		return nil
	}

	if state.MountPoint != "" {
		log.Info("unmounting filesystem", "mountPoint", state.MountPoint)
		if err := e.mounter.UnmountFilesystem(state.MountPoint); err != nil {
			return &TeardownError{Err: err}
		}
		state.MountPoint = ""
	}

	for i := len(state.Layers) - 1; i >= 0; i-- {
		layer := state.Layers[i]
		log.Debug("retiring layer", "kind", layer.Kind, "device", layer.Device)

		if err := e.mounter.UnmountLayer(state, layer); err != nil {
			state.Layers = state.Layers[:i+1]
			return &TeardownError{Layer: layer, Err: err}
		}
		state.Layers = state.Layers[:i]
	}

	state.Reset()
	log.Info("all layers retired")
	return nil
}

// report translates a typed failure into a user-facing message. A
// cancelled selection is a clean abort and reports nothing.
func (e *Engine) report(err error) {
	if e.notifier == nil || errors.Is(err, ErrCancelled) {
		return
	}

	var (
		classErr *ClassificationError
		enumErr  *EnumerationError
		mountErr *MountError
		tearErr  *TeardownError
		msg      string
	)

	switch {
	case errors.As(err, &classErr):
		msg = "Couldn't mount your output file. The disk inspection tools failed " +
			"to run. This could mean your disk image is damaged, and you need to " +
			"use a different tool to read it."
	case errors.As(err, &enumErr):
		msg = "Couldn't find any partitions to mount! This could indicate a " +
			"problem with your recovered image. It's possible the data you " +
			"recovered is partially corrupted, and you need to use another tool " +
			"to extract meaningful data from it."
	case errors.As(err, &mountErr):
		msg = "Couldn't mount your output file. Most probably, the filesystem is " +
			"damaged or unsupported and you'll need to use another tool to read " +
			"it from here. It could also be that your recovery is incomplete, as " +
			"that can sometimes cause this problem."
	case errors.As(err, &tearErr):
		msg = "Couldn't finish unmounting your output file! Please close all " +
			"applications that could be using it and try again."
	default:
		msg = err.Error()
	}

	e.notifier.ReportError(msg)
}
