package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"shotty/pkg/models"
)

// DefaultMaxReports bounds how many runs the history file keeps
const DefaultMaxReports = 100

// FileStorage keeps batch run reports in a JSON file
type FileStorage struct {
	filePath   string
	maxReports int
	mutex      sync.RWMutex
}

// NewFileStorage creates a new file storage instance
func NewFileStorage(filePath string) *FileStorage {
	if filePath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			filePath = "/tmp/shotty-runs.json"
		} else {
			filePath = filepath.Join(homeDir, ".shotty", "runs.json")
		}
	}

	return &FileStorage{
		filePath:   filePath,
		maxReports: DefaultMaxReports,
	}
}

// SetMaxReports changes how many runs are retained; older runs are dropped on save
func (fs *FileStorage) SetMaxReports(n int) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()
	fs.maxReports = n
}

// Path returns the backing file
func (fs *FileStorage) Path() string {
	return fs.filePath
}

// StorageRecord represents the structure stored in the file
type StorageRecord struct {
	Reports   map[string]*models.SummaryReport `json:"reports"`
	UpdatedAt time.Time                        `json:"updated_at"`
}

// SaveReport stores or replaces a run report
func (fs *FileStorage) SaveReport(report *models.SummaryReport) error {
	if report.ID == "" {
		return fmt.Errorf("report has no id")
	}

	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	data, err := fs.loadData()
	if err != nil {
		return err
	}

	data.Reports[report.ID] = report
	fs.prune(data)
	data.UpdatedAt = time.Now()

	return fs.saveData(data)
}

// GetReport retrieves a run report
func (fs *FileStorage) GetReport(id string) (*models.SummaryReport, error) {
	fs.mutex.RLock()
	defer fs.mutex.RUnlock()

	data, err := fs.loadData()
	if err != nil {
		return nil, err
	}

	report, exists := data.Reports[id]
	if !exists {
		return nil, fmt.Errorf("run %s not found", id)
	}

	return report, nil
}

// ListReports returns all stored reports, newest first
func (fs *FileStorage) ListReports() ([]*models.SummaryReport, error) {
	fs.mutex.RLock()
	defer fs.mutex.RUnlock()

	data, err := fs.loadData()
	if err != nil {
		return nil, err
	}

	return sortedReports(data), nil
}

// DeleteReport removes a run report
func (fs *FileStorage) DeleteReport(id string) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	data, err := fs.loadData()
	if err != nil {
		return err
	}

	if _, exists := data.Reports[id]; !exists {
		return fmt.Errorf("run %s not found", id)
	}

	delete(data.Reports, id)
	data.UpdatedAt = time.Now()

	return fs.saveData(data)
}

func sortedReports(data *StorageRecord) []*models.SummaryReport {
	reports := make([]*models.SummaryReport, 0, len(data.Reports))
	for _, report := range data.Reports {
		reports = append(reports, report)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].StartedAt.After(reports[j].StartedAt)
	})
	return reports
}

// prune drops the oldest reports beyond maxReports
func (fs *FileStorage) prune(data *StorageRecord) {
	if fs.maxReports <= 0 || len(data.Reports) <= fs.maxReports {
		return
	}
	for _, report := range sortedReports(data)[fs.maxReports:] {
		delete(data.Reports, report.ID)
	}
}

// loadData loads data from the storage file
func (fs *FileStorage) loadData() (*StorageRecord, error) {
	raw, err := os.ReadFile(fs.filePath)
	if os.IsNotExist(err) {
		return &StorageRecord{
			Reports: make(map[string]*models.SummaryReport),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read storage file: %w", err)
	}

	var record StorageRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal storage data: %w", err)
	}

	if record.Reports == nil {
		record.Reports = make(map[string]*models.SummaryReport)
	}

	return &record, nil
}

// saveData writes through a temp file so a crash never leaves half a file
func (fs *FileStorage) saveData(data *StorageRecord) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal storage data: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(fs.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	tmp := fs.filePath + ".tmp"
	if err := os.WriteFile(tmp, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write storage file: %w", err)
	}
	if err := os.Rename(tmp, fs.filePath); err != nil {
		return fmt.Errorf("failed to replace storage file: %w", err)
	}

	return nil
}
