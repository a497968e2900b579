package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "director.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	dc := cfg.DirectorConfig()
	assert.Equal(t, 5.0, dc.Balancer.Interval)
	assert.Equal(t, 1.25, dc.Balancer.Threshold)
	assert.Equal(t, 0.3, dc.Balancer.SwitchFraction)
	assert.Equal(t, 5, dc.Balancer.MaxCandidates)
	assert.Equal(t, 30, dc.Waves.MaxPopulation)
	assert.True(t, dc.IrritationEnabled)
}

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "director.yaml"))
	require.NoError(t, err)
	assert.Equal(t, int64(1337), cfg.Session.Seed)
	assert.Len(t, cfg.Arena.Rewards, 5)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.API.CORSOrigins)
	assert.Equal(t, 50*1000*1000, int(cfg.TickInterval()))
	assert.InDelta(t, 0.05, cfg.TickSeconds(), 1e-12)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	p := writeConfig(t, "balancer:\n  threshold: 2\nwaves:\n  growth: 1.5\n")
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 2.0, cfg.Balancer.Threshold)
	assert.Equal(t, 0.3, cfg.Balancer.SwitchFraction, "untouched keys keep defaults")
	assert.Equal(t, 1.5, cfg.Waves.Growth)
	assert.Equal(t, 10.0, cfg.Waves.SpawnsPerWave)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsSchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown section", "ballancer:\n  threshold: 2\n"},
		{"unknown key", "waves:\n  max_pop: 3\n"},
		{"threshold not above one", "balancer:\n  threshold: 1\n"},
		{"wrong type", "session:\n  tick_rate_hz: fast\n"},
		{"bad card stat", "arena:\n  rewards:\n    - {actor: enemy, stat: bullet_speed, change_percent: 0.1}\n"},
		{"card change out of range", "arena:\n  rewards:\n    - {actor: enemy, stat: damage, change_percent: 2}\n"},
		{"empty waves", "waves:\n  spawns_per_wave: 0.5\n  growth: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestValidateCrossField(t *testing.T) {
	cfg := Default()
	cfg.Waves.BatchMin, cfg.Waves.BatchMax = 5, 2
	cfg.Waves.IntervalMin, cfg.Waves.IntervalMax = 4, 1
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "waves.batch_min")
	assert.ErrorContains(t, err, "waves.interval_min")

	_, err = Load(writeConfig(t, "waves:\n  batch_min: 4\n  batch_max: 2\n"))
	assert.ErrorContains(t, err, "batch_min")
}

func TestValidateRejectsFractionalWaveBudget(t *testing.T) {
	cfg := Default()
	cfg.Waves.SpawnsPerWave = 0.5
	cfg.Waves.Growth = 1
	assert.ErrorContains(t, cfg.Validate(), "waves.spawns_per_wave")

	cfg.Waves.SpawnsPerWave = 1
	assert.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DIRECTOR_ADMIN_KEY", "s3cret")
	t.Setenv("DIRECTOR_DB", "/tmp/other.db")
	cfg, err := Load(writeConfig(t, "session:\n  db_path: data/a.db\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.API.AdminKey)
	assert.Equal(t, "/tmp/other.db", cfg.Session.DBPath)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
