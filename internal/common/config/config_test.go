package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "claude", cfg.Agent.BinaryPath)
	require.NotEmpty(t, cfg.Agent.DefaultModel)
	require.Equal(t, "~/.agentdeck/workstate", cfg.Workstate.Root)

	// Supervision cadence defaults.
	require.Equal(t, 5*time.Second, cfg.Runner.CheckIntervalDuration())
	require.Equal(t, 60*time.Second, cfg.Runner.IdleThresholdDuration())
	require.Equal(t, 5*time.Second, cfg.Runner.PostResultGraceDuration())
	require.Equal(t, 5*time.Second, cfg.Runner.PollIntervalDuration())
	require.Equal(t, 30, cfg.Runner.MaxResumeCycles)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("AGENTDECK_SERVER_PORT", "9999")
	t.Setenv("AGENTDECK_AGENT_BINARY_PATH", "/usr/local/bin/claude")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, "/usr/local/bin/claude", cfg.Agent.BinaryPath)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Database.Driver = "oracle"
	require.Error(t, validate(cfg))

	cfg, _ = Load()
	cfg.Runner.MaxResumeCycles = 0
	require.Error(t, validate(cfg))

	cfg, _ = Load()
	cfg.Server.Port = 0
	require.Error(t, validate(cfg))
}

func TestPostgresDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: 5432, User: "agentdeck", Password: "secret",
		DBName: "agentdeck", SSLMode: "disable",
	}
	require.Equal(t,
		"host=db port=5432 user=agentdeck password=secret dbname=agentdeck sslmode=disable",
		d.DSN())
}
