package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret)
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DRAFT_TTL_MINUTES", "STORE_TIMEOUT_SECONDS", "CATALOG_CACHE_TTL_SECONDS", "DEFAULT_SERIES", "RUN_MIGRATIONS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 120*time.Minute, cfg.DraftTTL)
	assert.Equal(t, 10*time.Second, cfg.StoreTimeout)
	assert.Equal(t, time.Minute, cfg.CatalogCacheTTL)
	assert.Equal(t, "1", cfg.DefaultSeries)
	assert.False(t, cfg.RunMigrations)
}

func TestLoadOverridesAndRejectsBadNumbers(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DRAFT_TTL_MINUTES", "15")
	t.Setenv("STORE_TIMEOUT_SECONDS", "-3")
	t.Setenv("REDIS_DB", "abc")
	t.Setenv("RUN_MIGRATIONS", "yes")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, 15*time.Minute, cfg.DraftTTL)
	assert.Equal(t, 10*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 0, cfg.RedisDB)
	assert.True(t, cfg.RunMigrations)
}
