package cloud

import (
	"context"

	"shotty/pkg/models"
)

// CloudProvider defines the interface for cloud providers
type CloudProvider interface {
	// ListInstances returns every instance visible to the credentials.
	// A non-empty project narrows the listing to instances tagged with it.
	ListInstances(ctx context.Context, project string) ([]*models.Instance, error)

	// GetInstanceState retrieves the current state of an instance
	GetInstanceState(ctx context.Context, instanceID string) (models.InstanceState, error)

	// StartInstance requests a stopped instance to start
	StartInstance(ctx context.Context, instanceID string) error

	// StopInstance requests a running instance to stop (without terminating)
	StopInstance(ctx context.Context, instanceID string) error

	// ListVolumes returns the volumes attached to an instance
	ListVolumes(ctx context.Context, instanceID string) ([]*models.Volume, error)

	// ListSnapshots returns the snapshots of a volume, newest first
	ListSnapshots(ctx context.Context, volumeID string) ([]*models.Snapshot, error)

	// CreateSnapshot requests a snapshot of the volume and returns without
	// waiting for it to complete
	CreateSnapshot(ctx context.Context, volumeID string, input SnapshotInput) (*models.Snapshot, error)

	// ValidateCredentials checks if the provider credentials are valid
	ValidateCredentials(ctx context.Context) error
}

// SnapshotInput carries the provenance attached to a new snapshot
type SnapshotInput struct {
	Description string
	Tags        []models.Tag
}
