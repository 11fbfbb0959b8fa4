package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/campaign-runner/internal/errors"
	"github.com/campaign-runner/internal/models"
	"github.com/campaign-runner/internal/types"
)

// HistoryRepository stores history entries in Postgres
type HistoryRepository struct {
	db *PostgresDB
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *PostgresDB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

const historyColumns = `
	job_id, parent_job_id, kind, label, link, start_time, end_time,
	duration_seconds, status, message, order_count, total_cost, orders,
	platform, engagement, quantity, provider, order_id, unit_rate_per_1k
`

// Append inserts an entry; an existing job_id is left untouched
func (r *HistoryRepository) Append(ctx context.Context, entry *models.HistoryEntry) error {
	var orders []byte
	if len(entry.Orders) > 0 {
		var err error
		if orders, err = json.Marshal(entry.Orders); err != nil {
			return apperrors.NewStorageError("postgres", "encode orders", err)
		}
	}

	query := `
		INSERT INTO job_history (` + historyColumns + `)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        NULLIF($14, ''), NULLIF($15, ''), $16, NULLIF($17, ''), NULLIF($18, ''), $19)
		ON CONFLICT (job_id) DO NOTHING
	`

	_, err := r.db.Pool().Exec(ctx, query,
		entry.JobID,
		entry.ParentJobID,
		string(entry.Kind),
		entry.Label,
		entry.Link,
		entry.StartTime,
		entry.EndTime,
		entry.DurationSeconds,
		string(entry.Status),
		entry.Message,
		entry.OrderCount,
		entry.TotalCost,
		orders,
		entry.Platform,
		entry.Engagement,
		entry.Quantity,
		entry.Provider,
		entry.OrderID,
		entry.UnitRatePer1k,
	)
	if err != nil {
		return apperrors.NewStorageError("postgres", "append history", err)
	}
	return nil
}

// List returns entries newest first
func (r *HistoryRepository) List(ctx context.Context, limit int) ([]*models.HistoryEntry, error) {
	query := `SELECT ` + historyColumns + ` FROM job_history ORDER BY end_time DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStorageError("postgres", "list history", err)
	}
	defer rows.Close()

	var entries []*models.HistoryEntry
	for rows.Next() {
		entry, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("postgres", "list history", err)
	}
	return entries, nil
}

// Get retrieves an entry by job id
func (r *HistoryRepository) Get(ctx context.Context, jobID string) (*models.HistoryEntry, error) {
	query := `SELECT ` + historyColumns + ` FROM job_history WHERE job_id = $1`

	entry, err := scanHistoryEntry(r.db.Pool().QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("history entry", jobID)
		}
		return nil, err
	}
	return entry, nil
}

func scanHistoryEntry(row pgx.Row) (*models.HistoryEntry, error) {
	var (
		entry        models.HistoryEntry
		kind, status string
		parent       *string
		platform     *string
		engagement   *string
		provider     *string
		orderID      *string
		quantity     *int
		unitRate     *float64
		orders       []byte
	)

	err := row.Scan(
		&entry.JobID,
		&parent,
		&kind,
		&entry.Label,
		&entry.Link,
		&entry.StartTime,
		&entry.EndTime,
		&entry.DurationSeconds,
		&status,
		&entry.Message,
		&entry.OrderCount,
		&entry.TotalCost,
		&orders,
		&platform,
		&engagement,
		&quantity,
		&provider,
		&orderID,
		&unitRate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, apperrors.NewStorageError("postgres", "scan history", err)
	}

	entry.Kind = types.JobKind(kind)
	entry.Status = types.HistoryStatus(status)
	entry.ParentJobID = deref(parent)
	entry.Platform = deref(platform)
	entry.Engagement = deref(engagement)
	entry.Provider = deref(provider)
	entry.OrderID = deref(orderID)
	if quantity != nil {
		entry.Quantity = *quantity
	}
	entry.UnitRatePer1k = unitRate
	if len(orders) > 0 {
		if err := json.Unmarshal(orders, &entry.Orders); err != nil {
			return nil, fmt.Errorf("failed to decode orders for %s: %w", entry.JobID, err)
		}
	}
	return &entry, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
