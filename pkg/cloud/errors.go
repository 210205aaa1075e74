package cloud

import (
	"errors"
	"fmt"

	"shotty/pkg/models"
)

// ErrWaitTimeout is returned when an instance does not reach the requested
// state within the configured bound.
var ErrWaitTimeout = errors.New("timed out waiting for instance state")

// ResourceFilterError means the instance working set could not be resolved.
// It aborts the whole command.
type ResourceFilterError struct {
	Project string
	Err     error
}

func (e *ResourceFilterError) Error() string {
	if e.Project == "" {
		return fmt.Sprintf("failed to select instances: %v", e.Err)
	}
	return fmt.Sprintf("failed to select instances for project %q: %v", e.Project, e.Err)
}

func (e *ResourceFilterError) Unwrap() error { return e.Err }

// StateTransitionError means a stop or start request was rejected, or the
// instance never reached the target state.
type StateTransitionError struct {
	InstanceID string
	Target     models.InstanceState
	Err        error
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("instance %s could not reach %s: %v", e.InstanceID, e.Target, e.Err)
}

func (e *StateTransitionError) Unwrap() error { return e.Err }

// Timeout reports whether the transition failed because the wait was exceeded
func (e *StateTransitionError) Timeout() bool {
	return errors.Is(e.Err, ErrWaitTimeout)
}

// SnapshotCreationError means a snapshot could not be requested for a volume
type SnapshotCreationError struct {
	VolumeID string
	Err      error
}

func (e *SnapshotCreationError) Error() string {
	return fmt.Sprintf("failed to snapshot volume %s: %v", e.VolumeID, e.Err)
}

func (e *SnapshotCreationError) Unwrap() error { return e.Err }
