package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/campaign-runner/internal/errors"
)

const sampleCatalog = `{
  "version": "1.0",
  "services": [
    {"platform": "Instagram", "service_category": "Likes", "tier": "Premium", "provider": "Peakerr", "service_id": 2001, "rate_per_1k": 1.20, "min_qty": 20, "max_qty": 5000},
    {"platform": "Instagram", "service_category": "Likes", "tier": "Budget", "provider": "JAP", "service_id": "1001", "rate_per_1k": 0.45, "min_qty": 50, "max_qty": 10000},
    {"platform": "Instagram", "service_category": "Likes", "provider": "smmkings", "service_id": 3001},
    {"platform": "Instagram", "service_category": "Views", "provider": "smm kings", "service_id": 3002, "rate_per_1k": 0.02, "min_qty": 100},
    {"platform": "TikTok", "service_category": "Likes", "provider": "mysocialsboost", "service_id": 4001, "rate_per_1k": 0.9},
    {"platform": "", "service_category": "Likes", "provider": "peakerr", "service_id": 9}
  ]
}`

func writeCatalog(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "services.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_NormalizesProviders(t *testing.T) {
	c, err := Load(writeCatalog(t, sampleCatalog))
	require.NoError(t, err)

	likes := c.List("instagram", "likes")
	require.Len(t, likes, 3)
	assert.Equal(t, "justanotherpanel", likes[0].Provider)
	assert.Equal(t, ServiceID("1001"), likes[0].ServiceID)
	assert.Equal(t, "peakerr", likes[1].Provider)
	// unpriced services sort last
	assert.Nil(t, likes[2].RatePer1k)

	assert.Equal(t, []string{"Instagram", "TikTok"}, c.Platforms())
}

func TestResolveService(t *testing.T) {
	c, err := Load(writeCatalog(t, sampleCatalog))
	require.NoError(t, err)

	t.Run("cheapest wins", func(t *testing.T) {
		svc, err := c.ResolveService("Instagram", "Likes", 100)
		require.NoError(t, err)
		assert.Equal(t, "justanotherpanel", svc.Provider)
		require.NotNil(t, svc.Cost(100))
		assert.InDelta(t, 0.045, *svc.Cost(100), 1e-9)
	})

	t.Run("below minimum", func(t *testing.T) {
		_, err := c.ResolveService("Instagram", "Likes", 10)
		require.Error(t, err)
		assert.Equal(t, "QUANTITY_OUT_OF_RANGE", apperrors.Categorize(err).Code)
	})

	t.Run("no maximum", func(t *testing.T) {
		svc, err := c.ResolveService("Instagram", "Views", 1_000_000)
		require.NoError(t, err)
		assert.Equal(t, "smmkings", svc.Provider)
	})

	t.Run("unknown pair", func(t *testing.T) {
		_, err := c.ResolveService("YouTube", "Likes", 100)
		require.Error(t, err)
		assert.Equal(t, "SERVICE_NOT_FOUND", apperrors.Categorize(err).Code)
	})
}

func TestSelect_PreferredTier(t *testing.T) {
	c, err := Load(writeCatalog(t, sampleCatalog))
	require.NoError(t, err)

	svc, err := c.Select("Instagram", "Likes", "premium")
	require.NoError(t, err)
	assert.Equal(t, ServiceID("2001"), svc.ServiceID)

	svc, err = c.Select("Instagram", "Likes", "gold")
	require.NoError(t, err)
	assert.Equal(t, ServiceID("1001"), svc.ServiceID)
}

func TestFindService(t *testing.T) {
	c, err := Load(writeCatalog(t, sampleCatalog))
	require.NoError(t, err)

	svc, err := c.FindService("Instagram", "Likes", "2001")
	require.NoError(t, err)
	assert.Equal(t, "peakerr", svc.Provider)

	_, err = c.FindService("Instagram", "Likes", "4001")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestService_Cost(t *testing.T) {
	rate := 1.2345678
	svc := Service{RatePer1k: &rate}
	require.NotNil(t, svc.Cost(100))
	assert.Equal(t, 0.123457, *svc.Cost(100))

	unpriced := &Service{}
	assert.Nil(t, unpriced.Cost(100), "no rate means unknown cost, not free")
	assert.Nil(t, unpriced.Rate())
}

func TestParseServiceID(t *testing.T) {
	id, err := ParseServiceID(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	_, err = ParseServiceID("abc")
	assert.True(t, apperrors.IsUserError(err))
}

func TestReload_KeepsPreviousOnError(t *testing.T) {
	path := writeCatalog(t, sampleCatalog)
	c, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))
	assert.Error(t, c.Reload())
	assert.Len(t, c.List("Instagram", "Likes"), 3)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeCatalog(t, sampleCatalog)
	c, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(c, 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer func() {
		cancel()
		<-w.Done()
	}()

	updated := `{"services": [{"platform": "Instagram", "service_category": "Likes", "provider": "peakerr", "service_id": 7, "rate_per_1k": 0.1}]}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	assert.Eventually(t, func() bool {
		return len(c.List("Instagram", "Likes")) == 1
	}, 2*time.Second, 20*time.Millisecond)
}
