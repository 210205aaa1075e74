package models

import (
	"time"
)

// ProjectTagKey is the tag used to group instances into projects
const ProjectTagKey = "Project"

// InstanceState is the lifecycle state reported by the cloud provider
type InstanceState string

const (
	InstanceStatePending      InstanceState = "pending"
	InstanceStateRunning      InstanceState = "running"
	InstanceStateStopping     InstanceState = "stopping"
	InstanceStateStopped      InstanceState = "stopped"
	InstanceStateShuttingDown InstanceState = "shutting-down"
	InstanceStateTerminated   InstanceState = "terminated"
)

// IsGone reports whether the instance can no longer be started or stopped
func (s InstanceState) IsGone() bool {
	return s == InstanceStateShuttingDown || s == InstanceStateTerminated
}

// SnapshotState is the state of a block-storage snapshot
type SnapshotState string

const (
	SnapshotStatePending   SnapshotState = "pending"
	SnapshotStateCompleted SnapshotState = "completed"
	SnapshotStateError     SnapshotState = "error"
)

// Tag is a single key/value label on a cloud resource
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Instance represents a cloud compute instance
type Instance struct {
	ID               string        `json:"id"`
	InstanceType     string        `json:"instance_type"`
	AvailabilityZone string        `json:"availability_zone"`
	State            InstanceState `json:"state"`
	PublicDNSName    string        `json:"public_dns_name,omitempty"`
	Tags             []Tag         `json:"tags,omitempty"`
}

// Tag returns the value of the first tag with the given key
func (i *Instance) Tag(key string) (string, bool) {
	for _, t := range i.Tags {
		if t.Key == key {
			return t.Value, true
		}
	}
	return "", false
}

// Project returns the value of the Project tag, if any
func (i *Instance) Project() (string, bool) {
	return i.Tag(ProjectTagKey)
}

// InProject checks whether the instance belongs to the named project.
// The comparison is exact and case-sensitive.
func (i *Instance) InProject(project string) bool {
	value, ok := i.Project()
	return ok && value == project
}

// Volume represents a block-storage volume attached to an instance
type Volume struct {
	ID         string `json:"id"`
	InstanceID string `json:"instance_id"`
	SizeGiB    int64  `json:"size_gib"`
	Encrypted  bool   `json:"encrypted"`
	State      string `json:"state"`
}

// Snapshot represents a point-in-time copy of a volume
type Snapshot struct {
	ID          string        `json:"id"`
	VolumeID    string        `json:"volume_id"`
	State       SnapshotState `json:"state"`
	Progress    string        `json:"progress"`
	StartTime   time.Time     `json:"start_time"`
	Description string        `json:"description,omitempty"`
}

// IsPending checks if the snapshot has been requested but not yet completed
func (s *Snapshot) IsPending() bool {
	return s.State == SnapshotStatePending
}
