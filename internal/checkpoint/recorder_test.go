package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campaign-runner/internal/models"
	"github.com/campaign-runner/internal/storage"
	"github.com/campaign-runner/internal/types"
)

func newTestRecorder(t *testing.T) (*Recorder, *miniredis.Miniredis, string) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	dir := t.TempDir()
	states := storage.NewFallbackStore("job_states",
		storage.NewRedisStateStore(client, "campaign:job_state:", time.Hour),
		storage.NewFileStateStore(filepath.Join(dir, "job_states.json")))
	active := storage.NewFallbackStore("active_jobs",
		storage.NewRedisStateStore(client, "campaign:active_jobs:", 0),
		storage.NewFileStateStore(filepath.Join(dir, "active_jobs.json")))

	return NewRecorder(states, active), mr, dir
}

func sampleState() *models.JobState {
	return &models.JobState{
		JobID:       "campaign_spring_0a1b2c3d",
		CurrentLoop: 3,
		TotalLoops:  5,
		StartTime:   time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		Messages:    []string{"Loop 1/5", "Loop 2/5"},
		TotalOrders: 2,
		PlacedOrders: []models.PlacedOrder{
			{Loop: 1, Platform: "Instagram", Provider: "peakerr", OrderID: "100", Engagement: "Likes", Quantity: 50},
			{Loop: 2, Platform: "Instagram", Provider: "peakerr", OrderID: "101", Engagement: "Likes", Quantity: 50},
		},
		ProfileName: "spring",
		Link:        "https://instagram.com/p/xyz",
	}
}

func TestRecorder_JobStateLifecycle(t *testing.T) {
	rec, _, _ := newTestRecorder(t)
	ctx := context.Background()

	_, ok, err := rec.LoadJobState(ctx, "campaign_spring_0a1b2c3d")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, rec.SaveJobState(ctx, sampleState()))

	got, ok, err := rec.LoadJobState(ctx, "campaign_spring_0a1b2c3d")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got.CurrentLoop)
	assert.Len(t, got.PlacedOrders, 2)
	assert.True(t, got.HasOrder(2, "Instagram", "Likes"))
	assert.False(t, got.UpdatedAt.IsZero())

	require.NoError(t, rec.ClearJobState(ctx, "campaign_spring_0a1b2c3d"))
	_, ok, err = rec.LoadJobState(ctx, "campaign_spring_0a1b2c3d")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecorder_SurvivesRedisOutage(t *testing.T) {
	rec, mr, dir := newTestRecorder(t)
	ctx := context.Background()

	mr.SetError("ERR server unavailable")
	require.NoError(t, rec.SaveJobState(ctx, sampleState()))

	got, ok, err := rec.LoadJobState(ctx, "campaign_spring_0a1b2c3d")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, got.CurrentLoop)

	// a fresh recorder over the same directory, Redis back up, still sees it
	mr.SetError("")
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()
	states := storage.NewFallbackStore("job_states",
		storage.NewRedisStateStore(client, "campaign:job_state:", time.Hour),
		storage.NewFileStateStore(filepath.Join(dir, "job_states.json")))
	rec2 := NewRecorder(states, storage.NewFileStateStore(filepath.Join(dir, "active_jobs.json")))

	got, ok, err = rec2.LoadJobState(ctx, "campaign_spring_0a1b2c3d")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.TotalOrders)
	assert.True(t, mr.Exists("campaign:job_state:campaign_spring_0a1b2c3d"), "durable copy repaired")
}

func TestRecorder_CorruptStateIsAbsent(t *testing.T) {
	states := storage.NewFileStateStore(filepath.Join(t.TempDir(), "s.json"))
	rec := NewRecorder(states, storage.NewFileStateStore(filepath.Join(t.TempDir(), "a.json")))
	ctx := context.Background()

	require.NoError(t, states.Put(ctx, "job", []byte(`{"current_loop":"three"}`)))

	_, ok, err := rec.LoadJobState(ctx, "job")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecorder_ActiveJobsSnapshot(t *testing.T) {
	rec, _, _ := newTestRecorder(t)
	ctx := context.Background()

	empty, err := rec.LoadActiveJobsSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	snap := models.ActiveJobsSnapshot{
		"campaign_spring_0a1b2c3d": {
			Kind:         types.KindCampaign,
			Status:       types.StatusRunning,
			CampaignName: "spring",
			Link:         "https://instagram.com/p/xyz",
		},
	}
	require.NoError(t, rec.SaveActiveJobsSnapshot(ctx, snap))

	got, err := rec.LoadActiveJobsSnapshot(ctx)
	require.NoError(t, err)
	require.Contains(t, got, "campaign_spring_0a1b2c3d")
	assert.Equal(t, "campaign_spring_0a1b2c3d", got["campaign_spring_0a1b2c3d"].JobID)
	assert.Equal(t, "spring", got["campaign_spring_0a1b2c3d"].CampaignName)
}
