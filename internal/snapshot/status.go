package snapshot

import (
	"context"
	"fmt"

	"shotty/pkg/models"
)

// PendingStatus is the explicit outcome of a pending-snapshot check
type PendingStatus int

const (
	// Unknown means the check could not be completed
	Unknown PendingStatus = iota
	NotPending
	Pending
)

func (s PendingStatus) String() string {
	switch s {
	case NotPending:
		return "not-pending"
	case Pending:
		return "pending"
	default:
		return "unknown"
	}
}

// SnapshotLister is the part of the cloud provider the check reads from
type SnapshotLister interface {
	ListSnapshots(ctx context.Context, volumeID string) ([]*models.Snapshot, error)
}

// StatusChecker decides whether a volume already has a snapshot in flight
type StatusChecker struct {
	provider SnapshotLister
}

// NewStatusChecker creates a checker over the given provider
func NewStatusChecker(provider SnapshotLister) *StatusChecker {
	return &StatusChecker{provider: provider}
}

// HasPendingSnapshot returns Pending iff at least one snapshot of the volume
// is in the pending state. A listing failure yields Unknown with the error.
func (c *StatusChecker) HasPendingSnapshot(ctx context.Context, volume *models.Volume) (PendingStatus, error) {
	snapshots, err := c.provider.ListSnapshots(ctx, volume.ID)
	if err != nil {
		return Unknown, fmt.Errorf("failed to check snapshots of %s: %w", volume.ID, err)
	}

	for _, snap := range snapshots {
		if snap.IsPending() {
			return Pending, nil
		}
	}
	return NotPending, nil
}
