package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Manager handles job record CRUD against a RecordStore.
// It does not execute jobs; the Supervisor runs them and reports status here.
type Manager struct {
	store  RecordStore
	logger *slog.Logger
}

// NewManager creates a new job manager.
func NewManager(store RecordStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		logger: logger,
	}
}

// Create persists a new queued job record and returns its id.
func (m *Manager) Create(ctx context.Context, jobType, documentID string, metadata map[string]any) (string, error) {
	record := NewRecord(uuid.NewString(), jobType, documentID, metadata)
	if err := m.Insert(ctx, record); err != nil {
		return "", err
	}
	return record.ID, nil
}

// Insert persists a record whose id the caller already chose.
func (m *Manager) Insert(ctx context.Context, record *Record) error {
	if err := m.store.CreateJob(ctx, record); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	m.logger.Info("job created", "id", record.ID, "type", record.JobType, "document_id", record.DocumentID)
	return nil
}

// Get returns a job record by ID.
func (m *Manager) Get(ctx context.Context, jobID string) (*Record, error) {
	return m.store.GetJob(ctx, jobID)
}

// List returns jobs matching the filter.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return m.store.ListJobs(ctx, filter)
}

// UpdateStatus updates a job's status.
func (m *Manager) UpdateStatus(ctx context.Context, jobID string, status Status, errMsg string) error {
	return m.store.UpdateJobStatus(ctx, jobID, status, errMsg)
}

// UpdateMetadata replaces a job's metadata (for progress tracking).
func (m *Manager) UpdateMetadata(ctx context.Context, jobID string, metadata map[string]any) error {
	return m.store.UpdateJobMetadata(ctx, jobID, metadata)
}
