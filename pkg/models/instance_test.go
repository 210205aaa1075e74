package models_test

import (
	"errors"
	"testing"
	"time"

	"shotty/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstance_Project(t *testing.T) {
	tests := []struct {
		name      string
		instance  *models.Instance
		expected  string
		hasTag    bool
		inProject string
		matches   bool
	}{
		{
			name:      "no tags",
			instance:  &models.Instance{ID: "i-1"},
			expected:  "",
			hasTag:    false,
			inProject: "web",
			matches:   false,
		},
		{
			name: "project tag present",
			instance: &models.Instance{
				ID:   "i-2",
				Tags: []models.Tag{{Key: "Name", Value: "box"}, {Key: "Project", Value: "web"}},
			},
			expected:  "web",
			hasTag:    true,
			inProject: "web",
			matches:   true,
		},
		{
			name: "case differs",
			instance: &models.Instance{
				ID:   "i-3",
				Tags: []models.Tag{{Key: "Project", Value: "Web"}},
			},
			expected:  "Web",
			hasTag:    true,
			inProject: "web",
			matches:   false,
		},
		{
			name: "lowercase key is not the project tag",
			instance: &models.Instance{
				ID:   "i-4",
				Tags: []models.Tag{{Key: "project", Value: "web"}},
			},
			expected:  "",
			hasTag:    false,
			inProject: "web",
			matches:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.instance.Project()
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.hasTag, ok)
			assert.Equal(t, tt.matches, tt.instance.InProject(tt.inProject))
		})
	}
}

func TestInstanceState_IsGone(t *testing.T) {
	assert.True(t, models.InstanceStateTerminated.IsGone())
	assert.True(t, models.InstanceStateShuttingDown.IsGone())
	assert.False(t, models.InstanceStateStopped.IsGone())
	assert.False(t, models.InstanceStateRunning.IsGone())
}

func TestSummaryReport_Counts(t *testing.T) {
	report := models.NewSummaryReport("run-1", models.OperationSnapshot, "web")

	report.Add(models.InstanceResult{
		InstanceID: "i-1",
		Status:     models.StatusSucceeded,
		Volumes: []models.VolumeResult{
			{VolumeID: "vol-1", Status: models.StatusCreated, SnapshotID: "snap-1"},
			{VolumeID: "vol-2", Status: models.StatusSkipped},
		},
	})

	failed := models.InstanceResult{InstanceID: "i-2"}
	failed.Fail(errors.New("boom"))
	report.Add(failed)

	report.Add(models.InstanceResult{
		InstanceID: "i-3",
		Status:     models.StatusSucceeded,
		Volumes:    []models.VolumeResult{{VolumeID: "vol-3", Status: models.StatusFailed, Error: "nope"}},
	})
	report.Finish()

	counts := report.Counts()
	assert.Equal(t, 3, counts.Instances)
	assert.Equal(t, 1, counts.FailedInstances)
	assert.Equal(t, 1, counts.SnapshotsCreated)
	assert.Equal(t, 1, counts.VolumesSkipped)
	assert.Equal(t, 1, counts.VolumesFailed)

	assert.True(t, report.HasFailures())
	assert.Len(t, report.FailedInstances(), 1)
	assert.Equal(t, "boom", report.FailedInstances()[0].Error)
	assert.GreaterOrEqual(t, report.Duration(), time.Duration(0))
}

func TestSummaryReport_NoFailures(t *testing.T) {
	report := models.NewSummaryReport("run-2", models.OperationStop, "")
	report.Add(models.InstanceResult{InstanceID: "i-1", Status: models.StatusSucceeded})

	assert.False(t, report.HasFailures())
	assert.Equal(t, time.Duration(0), report.Duration())
	assert.NoError(t, report.Err())
}

func TestSummaryReport_Err(t *testing.T) {
	report := models.NewSummaryReport("run-3", models.OperationSnapshot, "web")
	report.Add(models.InstanceResult{
		InstanceID: "i-1",
		Status:     models.StatusSucceeded,
		Volumes:    []models.VolumeResult{{VolumeID: "vol-1", Status: models.StatusFailed, Error: "rate exceeded"}},
	})

	// volume failures alone do not fail the run
	assert.Equal(t, 1, report.Counts().VolumesFailed)
	assert.NoError(t, report.Err())

	failed := models.InstanceResult{InstanceID: "i-2"}
	failed.Fail(errors.New("could not stop"))
	report.Add(failed)

	err := report.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 instances failed")
	assert.Contains(t, err.Error(), "i-2: could not stop")
}

func TestSnapshot_IsPending(t *testing.T) {
	assert.True(t, (&models.Snapshot{State: models.SnapshotStatePending}).IsPending())
	assert.False(t, (&models.Snapshot{State: models.SnapshotStateCompleted}).IsPending())
	assert.False(t, (&models.Snapshot{State: models.SnapshotStateError}).IsPending())
}
