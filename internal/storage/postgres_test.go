package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaign-runner/internal/config"
	apperrors "github.com/campaign-runner/internal/errors"
	"github.com/campaign-runner/internal/models"
	"github.com/campaign-runner/internal/types"
)

func testPostgresConfig() *config.PostgresConfig {
	return &config.PostgresConfig{
		Host:           "localhost",
		Port:           "5432",
		Database:       "campaigns",
		User:           "campaigns",
		Password:       "campaigns_dev_password",
		MaxConnections: 4,
		MigrationsPath: "../../migrations/postgres",
	}
}

func TestHistoryRepository_AppendListGet(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := testPostgresConfig()
	ctx := testContext(t)

	db, err := NewPostgresDB(ctx, cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
		return
	}
	defer db.Close()

	require.NoError(t, RunMigrations(cfg.URL(), cfg.MigrationsPath))

	repo := NewHistoryRepository(db)
	jobID := "campaign_it_" + time.Now().Format("150405.000000")
	t.Cleanup(func() {
		_, _ = db.Pool().Exec(ctx, `DELETE FROM job_history WHERE job_id = $1`, jobID)
	})

	cost, rate := 0.5, 5.0
	entry := &models.HistoryEntry{
		JobID:      jobID,
		Kind:       types.KindCampaign,
		Label:      "integration",
		Link:       "https://instagram.com/p/abc",
		StartTime:  time.Now().Add(-time.Minute).UTC(),
		EndTime:    time.Now().UTC(),
		Status:     types.HistorySuccess,
		Message:    "Orders: 1. ",
		OrderCount: 1,
		TotalCost:  &cost,
		Orders: []models.PlacedOrder{
			{Loop: 1, Platform: "Instagram", Provider: "peakerr", OrderID: "991", Engagement: "Likes", Quantity: 100, UnitRatePer1k: &rate, Cost: &cost},
		},
	}
	require.NoError(t, repo.Append(ctx, entry))
	// second append for the same job is ignored
	require.NoError(t, repo.Append(ctx, entry))

	got, err := repo.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, "integration", got.Label)
	require.Len(t, got.Orders, 1)
	assert.Equal(t, "991", got.Orders[0].OrderID)
	require.NotNil(t, got.TotalCost)
	assert.InDelta(t, 0.5, *got.TotalCost, 1e-9)

	list, err := repo.List(ctx, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, list)

	_, err = repo.Get(ctx, "missing-"+jobID)
	assert.True(t, apperrors.IsNotFound(err))
}
