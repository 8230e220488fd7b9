package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_ENV", "definitely-not-there")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "ws://localhost:8080/api/ws/room", cfg.SignalURL)
	assert.Equal(t, 5, cfg.DialAttempts)
	assert.Equal(t, 150*time.Millisecond, cfg.CallStagger)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 16, cfg.RoomCapacity)
	assert.False(t, cfg.RequireToken)
	assert.NotEmpty(t, cfg.STUNServers)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_ENV", "definitely-not-there")
	t.Setenv("MEETMESH_LOG_LEVEL", "debug")
	t.Setenv("MEETMESH_ROOM_CAPACITY", "4")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 4, cfg.RoomCapacity)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("CONFIG_ENV", "definitely-not-there")
	t.Setenv("MEETMESH_LOG_LEVEL", "loud")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}
