package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replaylog/pkg/dberrors"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100*time.Millisecond, cfg.Retrieval.DemandPoll.Std())
	assert.Equal(t, 10*time.Millisecond, cfg.Retrieval.DataPoll.Std())
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
logger:
  level: debug
  json: true
log:
  backend: pebble
  path: /var/lib/replaylog
  roll_cycle: hourly
retrieval:
  data_poll: 25ms
  delete_after_read: true
replay:
  acceleration: 2.5
  loop_delay: 1s
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, slog.LevelDebug, cfg.Logger.SlogLevel())
	assert.True(t, cfg.Logger.JSON)
	assert.Equal(t, BackendPebble, cfg.Log.Backend)
	assert.Equal(t, "hourly", cfg.Log.RollCycle)
	assert.Equal(t, 25*time.Millisecond, cfg.Retrieval.DataPoll.Std())
	assert.Equal(t, 100*time.Millisecond, cfg.Retrieval.DemandPoll.Std())
	assert.True(t, cfg.Retrieval.DeleteAfterRead)
	assert.Equal(t, 2.5, cfg.Replay.Acceleration)
	assert.Equal(t, time.Second, cfg.Replay.LoopDelay.Std())
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestParse_BadDuration(t *testing.T) {
	_, err := Parse([]byte("retrieval:\n  data_poll: soon\n"))
	assert.Error(t, err)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Logger.Level = "loud"
	cfg.Log.Backend = "tape"
	cfg.Log.RollCycle = "fortnightly"
	cfg.Log.Compression = "lz4"
	cfg.Retrieval.DataPoll = 0
	cfg.Replay.Acceleration = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, dberrors.ErrInvalidArgument)
	for _, field := range []string{"logger.level", "log.backend", "log.roll_cycle", "log.compression", "retrieval.data_poll", "replay.acceleration"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestLoad_MissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http-server:\n  port: 9090\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
}
