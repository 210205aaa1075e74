package models

import (
	"fmt"
	"time"
)

// Operation names a batch command recorded in a SummaryReport
type Operation string

const (
	OperationSnapshot Operation = "snapshot"
	OperationStop     Operation = "stop"
	OperationStart    Operation = "start"
)

// ResultStatus is the outcome of one instance or volume within a batch
type ResultStatus string

const (
	StatusSucceeded ResultStatus = "succeeded"
	StatusFailed    ResultStatus = "failed"
	StatusCreated   ResultStatus = "created"
	StatusSkipped   ResultStatus = "skipped"
)

// VolumeResult records what happened to one volume during a snapshot run
type VolumeResult struct {
	VolumeID   string       `json:"volume_id"`
	Status     ResultStatus `json:"status"`
	SnapshotID string       `json:"snapshot_id,omitempty"`
	Error      string       `json:"error,omitempty"`
	Err        error        `json:"-"`
}

// InstanceResult records what happened to one instance during a batch
type InstanceResult struct {
	InstanceID string         `json:"instance_id"`
	Status     ResultStatus   `json:"status"`
	Error      string         `json:"error,omitempty"`
	Volumes    []VolumeResult `json:"volumes,omitempty"`
	Err        error          `json:"-"`
}

// Fail marks the instance as failed with the given error
func (r *InstanceResult) Fail(err error) {
	r.Status = StatusFailed
	r.Err = err
	r.Error = err.Error()
}

// SummaryReport is the outcome of a batch command across all selected instances
type SummaryReport struct {
	ID         string           `json:"id"`
	Operation  Operation        `json:"operation"`
	Project    string           `json:"project,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Instances  []InstanceResult `json:"instances"`
}

// ReportCounts aggregates a SummaryReport
type ReportCounts struct {
	Instances        int
	FailedInstances  int
	SnapshotsCreated int
	VolumesSkipped   int
	VolumesFailed    int
}

// NewSummaryReport starts a report for the given operation
func NewSummaryReport(id string, op Operation, project string) *SummaryReport {
	return &SummaryReport{
		ID:        id,
		Operation: op,
		Project:   project,
		StartedAt: time.Now(),
		Instances: []InstanceResult{},
	}
}

// Add appends an instance result
func (r *SummaryReport) Add(result InstanceResult) {
	r.Instances = append(r.Instances, result)
}

// Finish stamps the completion time
func (r *SummaryReport) Finish() {
	r.FinishedAt = time.Now()
}

// Duration returns how long the batch took
func (r *SummaryReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// HasFailures checks if any instance-level operation failed
func (r *SummaryReport) HasFailures() bool {
	return len(r.FailedInstances()) > 0
}

// Err returns an error when any instance-level operation failed. Volume
// failures are reported in Counts but do not fail the run.
func (r *SummaryReport) Err() error {
	failed := r.FailedInstances()
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("run %s: %d of %d instances failed, first %s: %s",
		r.ID, len(failed), len(r.Instances), failed[0].InstanceID, failed[0].Error)
}

// FailedInstances returns the results of every failed instance
func (r *SummaryReport) FailedInstances() []InstanceResult {
	var failed []InstanceResult
	for _, inst := range r.Instances {
		if inst.Status == StatusFailed {
			failed = append(failed, inst)
		}
	}
	return failed
}

// Counts tallies instance and volume outcomes
func (r *SummaryReport) Counts() ReportCounts {
	counts := ReportCounts{Instances: len(r.Instances)}
	for _, inst := range r.Instances {
		if inst.Status == StatusFailed {
			counts.FailedInstances++
		}
		for _, vol := range inst.Volumes {
			switch vol.Status {
			case StatusCreated:
				counts.SnapshotsCreated++
			case StatusSkipped:
				counts.VolumesSkipped++
			case StatusFailed:
				counts.VolumesFailed++
			}
		}
	}
	return counts
}
