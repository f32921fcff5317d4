package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ALLOWED_ORIGIN", "")
	t.Setenv("RESTOCK_RETURNS", "")
	t.Setenv("ELIGIBILITY_TTL_SECONDS", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, ":8080", cfg.Address())
	assert.True(t, cfg.RestockReturns)
	assert.Equal(t, 300, cfg.EligibilityTTLSeconds)
	assert.Equal(t, "*", cfg.AllowedOrigin)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RESTOCK_RETURNS", "false")
	t.Setenv("ELIGIBILITY_TTL_SECONDS", "60")
	t.Setenv("DEFAULT_STORE_ID", "store-kota")

	cfg := Load()

	assert.Equal(t, ":9090", cfg.Address())
	assert.False(t, cfg.RestockReturns)
	assert.Equal(t, 60, cfg.EligibilityTTLSeconds)
	assert.Equal(t, "store-kota", cfg.DefaultStoreID)
}

func TestLoadIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("RESTOCK_RETURNS", "maybe")

	cfg := Load()

	assert.Equal(t, 0, cfg.RedisDB)
	assert.True(t, cfg.RestockReturns)
}
