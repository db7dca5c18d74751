package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = strings.Repeat("s", 32)

func TestLoadConfigLayersFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DEFAULT_CONFIG_FILE), []byte(`{
		"listen_addr": ":9000",
		"mesh_provider": "trellis",
		"free_generations_limit": 5
	}`), 0o644))

	t.Setenv("CONFIG_FILE", "")
	t.Setenv("SESSION_SECRET", testSecret)
	t.Setenv("FREE_GENERATIONS_LIMIT", "7")
	t.Setenv("SECURE_COOKIES", "false")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, MESH_PROVIDER_TRELLIS, cfg.MeshProvider)
	assert.Equal(t, 7, cfg.FreeGenerationsLimit)
	assert.False(t, cfg.SecureCookies)
	assert.Equal(t, DEFAULT_STALE_GENERATION_MINUTES, cfg.StaleGenerationMinutes)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate())

	cfg.SessionSecret = "short"
	assert.Error(t, cfg.Validate())

	cfg.SessionSecret = testSecret
	assert.NoError(t, cfg.Validate())

	cfg.MeshProvider = "photogrammetry"
	assert.Error(t, cfg.Validate())
}

func TestLoadPlans(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DEFAULT_PLANS_FILE), []byte(`[
		{"id": "pro", "name": "Pro", "generationsLimit": 50, "priceId": "price_pro"}
	]`), 0o644))

	plans, err := LoadPlans(dir)
	require.NoError(t, err)
	require.Len(t, plans, 1)

	assert.Equal(t, 50, GetPlan(plans, "pro").GenerationsLimit)
	assert.Equal(t, "pro", GetPlanByPrice(plans, "price_pro").ID)
	assert.Nil(t, GetPlan(plans, "enterprise"))

	_, err = LoadPlans(t.TempDir())
	assert.Error(t, err)
}

func TestNormalizePostcode(t *testing.T) {
	cases := map[string]string{
		"sw1a1aa":    "SW1A 1AA",
		" M1  1AE ":  "M1 1AE",
		"EC1A 1BB":   "EC1A 1BB",
		"not a code": "",
		"12345":      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePostcode(in), in)
	}
}
