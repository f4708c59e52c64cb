package engine

import (
	"errors"
	"fmt"

	"github.com/diskrescue/imgmount/internal/container"
)

// ErrCancelled is returned when the user declines a selection. It is a
// clean abort, not a failure: everything materialized up to that point
// has been torn down.
var ErrCancelled = errors.New("cancelled by user")

// ClassificationError means the kind of the output container could not
// be determined: the probing tools failed, or the user declined to
// answer. Nothing was materialized.
type ClassificationError struct {
	Path string
	Err  error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classify %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("could not determine what %s contains", e.Path)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// EnumerationError means a non-partition container yielded no child
// volumes, even after the automatic forced-partition fallback.
type EnumerationError struct {
	Path string
	Kind container.Kind
	Err  error
}

func (e *EnumerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("list volumes of %s container %s: %v", e.Kind, e.Path, e.Err)
	}
	return fmt.Sprintf("no mountable volumes found in %s container %s", e.Kind, e.Path)
}

func (e *EnumerationError) Unwrap() error { return e.Err }

// MountError means the final filesystem mount itself failed, usually
// because the filesystem is damaged, unsupported, or the recovery is
// incomplete. Materialized layers have been torn down.
type MountError struct {
	Device string
	Err    error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("mount %s: %v", e.Device, e.Err)
}

func (e *MountError) Unwrap() error { return e.Err }

// TeardownError means a retirement step failed, leaving kernel state
// behind that needs manual cleanup. The mount state keeps the layers
// that are still materialized.
type TeardownError struct {
	Layer container.Layer
	Err   error
}

func (e *TeardownError) Error() string {
	if e.Layer.Device == "" {
		return fmt.Sprintf("teardown: %v", e.Err)
	}
	return fmt.Sprintf("teardown %s layer %s: %v", e.Layer.Kind, e.Layer.Device, e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }
