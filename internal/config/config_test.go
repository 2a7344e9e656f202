package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 50000.0, cfg.Rules.StructuringThreshold)
	assert.Equal(t, 48*time.Hour, cfg.Rules.StructuringWindow)
	assert.Equal(t, 4, cfg.Rules.StructuringMinCount)
	assert.Equal(t, -0.05, cfg.Scoring.IsoThreshold)
	assert.Equal(t, 0.2, cfg.Scoring.AEThreshold)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.ElementsMatch(t, []string{"Iran", "North Korea", "Syria", "Yemen"}, cfg.Rules.HighRiskCountries)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  structuring_threshold: 10000
  structuring_window: 24h
jobs:
  workers: 8
`), 0o600))
	t.Setenv("AMLWATCH_JOBS_WORKERS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10000.0, cfg.Rules.StructuringThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Rules.StructuringWindow)
	assert.Equal(t, 2, cfg.Jobs.Workers)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: oracle\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
