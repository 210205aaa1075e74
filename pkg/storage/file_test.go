package storage_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shotty/pkg/models"
	"shotty/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReport(id string, startedAt time.Time) *models.SummaryReport {
	report := models.NewSummaryReport(id, models.OperationSnapshot, "web")
	report.StartedAt = startedAt
	report.Add(models.InstanceResult{
		InstanceID: "i-1",
		Status:     models.StatusSucceeded,
		Volumes:    []models.VolumeResult{{VolumeID: "vol-1", Status: models.StatusCreated, SnapshotID: "snap-1"}},
	})
	report.FinishedAt = startedAt.Add(time.Minute)
	return report
}

func TestFileStorage_SaveAndGetReport(t *testing.T) {
	fs := storage.NewFileStorage(filepath.Join(t.TempDir(), "nested", "runs.json"))

	report := newReport("run-1", time.Now())
	require.NoError(t, fs.SaveReport(report))

	retrieved, err := fs.GetReport("run-1")
	require.NoError(t, err)

	assert.Equal(t, report.ID, retrieved.ID)
	assert.Equal(t, models.OperationSnapshot, retrieved.Operation)
	assert.Equal(t, "web", retrieved.Project)
	require.Len(t, retrieved.Instances, 1)
	assert.Equal(t, "snap-1", retrieved.Instances[0].Volumes[0].SnapshotID)

	_, err = fs.GetReport("missing")
	assert.Error(t, err)
}

func TestFileStorage_ListReportsNewestFirst(t *testing.T) {
	fs := storage.NewFileStorage(filepath.Join(t.TempDir(), "runs.json"))

	reports, err := fs.ListReports()
	require.NoError(t, err)
	assert.Empty(t, reports)

	now := time.Now()
	require.NoError(t, fs.SaveReport(newReport("old", now.Add(-2*time.Hour))))
	require.NoError(t, fs.SaveReport(newReport("new", now)))
	require.NoError(t, fs.SaveReport(newReport("mid", now.Add(-time.Hour))))

	reports, err = fs.ListReports()
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, "new", reports[0].ID)
	assert.Equal(t, "mid", reports[1].ID)
	assert.Equal(t, "old", reports[2].ID)
}

func TestFileStorage_Prune(t *testing.T) {
	fs := storage.NewFileStorage(filepath.Join(t.TempDir(), "runs.json"))
	fs.SetMaxReports(2)

	now := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, fs.SaveReport(newReport(fmt.Sprintf("run-%d", i), now.Add(time.Duration(i)*time.Minute))))
	}

	reports, err := fs.ListReports()
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "run-3", reports[0].ID)
	assert.Equal(t, "run-2", reports[1].ID)
}

func TestFileStorage_DeleteReport(t *testing.T) {
	fs := storage.NewFileStorage(filepath.Join(t.TempDir(), "runs.json"))

	require.NoError(t, fs.SaveReport(newReport("run-1", time.Now())))
	require.NoError(t, fs.DeleteReport("run-1"))

	_, err := fs.GetReport("run-1")
	assert.Error(t, err)
	assert.Error(t, fs.DeleteReport("run-1"))
}

func TestFileStorage_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.json")
	fs := storage.NewFileStorage(path)

	assert.Error(t, fs.SaveReport(&models.SummaryReport{}))

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, err := fs.ListReports()
	assert.Error(t, err)
	assert.Error(t, fs.SaveReport(newReport("run-1", time.Now())))
}
