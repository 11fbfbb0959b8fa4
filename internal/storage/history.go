package storage

import (
	"context"

	"github.com/campaign-runner/internal/models"
)

// HistoryStore is an append-only log of finished jobs.
// Append is idempotent on job_id: a second entry for the same id is dropped.
type HistoryStore interface {
	Append(ctx context.Context, entry *models.HistoryEntry) error
	// List returns up to limit entries, newest first; limit <= 0 means no limit
	List(ctx context.Context, limit int) ([]*models.HistoryEntry, error)
	Get(ctx context.Context, jobID string) (*models.HistoryEntry, error)
}
