package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/campaign-runner/internal/errors"
	"github.com/campaign-runner/internal/models"
)

func TestStore_SaveAndGet(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "profiles.json"))
	ctx := context.Background()

	def := &models.CampaignDefinition{
		Engagements: []models.Engagement{
			{Type: "Likes", FixedQuantity: 50},
			{Type: "Views", UseRandomQuantity: true, MinQuantity: 100, MaxQuantity: 200, Loops: 2},
		},
		LoopSettings: models.LoopSettings{Loops: 3, Delay: 60},
	}
	require.NoError(t, store.Save(ctx, "spring", def))

	got, err := store.Get(ctx, "spring")
	require.NoError(t, err)
	assert.Equal(t, 3, got.LoopSettings.Loops)
	assert.Equal(t, "Instagram", got.Engagements[0].Platform)
	assert.Equal(t, 2, got.Engagements[1].Loops)

	names, err := store.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"spring"}, names)
}

func TestStore_GetMissing(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "profiles.json"))

	_, err := store.Get(context.Background(), "ghost")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestStore_SaveRejectsInvalid(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "profiles.json"))

	err := store.Save(context.Background(), "empty", &models.CampaignDefinition{})
	assert.True(t, apperrors.IsUserError(err))

	err = store.Save(context.Background(), " ", &models.CampaignDefinition{
		Engagements: []models.Engagement{{Type: "Likes"}},
	})
	assert.True(t, apperrors.IsUserError(err))
}

func TestStore_ExternalEditsVisible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	store := NewStore(path)

	require.NoError(t, os.WriteFile(path, []byte(`{"summer": {"engagements": [{"type": "Likes", "fixed_quantity": 10}], "loop_settings": {"loops": 2}}}`), 0o600))

	got, err := store.Get(context.Background(), "summer")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Engagements[0].FixedQuantity)
}

func TestStore_GetRejectsHandEditedDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	store := NewStore(path)

	require.NoError(t, os.WriteFile(path, []byte(`{"dup": {"engagements": [
		{"type": "Likes", "fixed_quantity": 50},
		{"type": "Likes", "platform": "Instagram", "fixed_quantity": 500}
	], "loop_settings": {"loops": 1}}}`), 0o600))

	_, err := store.Get(context.Background(), "dup")
	require.Error(t, err)
	assert.True(t, apperrors.IsUserError(err))
	assert.Contains(t, err.Error(), "duplicate engagement")
}
