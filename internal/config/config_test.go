package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/mathdrill/internal/difficulty"
	"github.com/conorfennell/mathdrill/internal/queue"
	"github.com/conorfennell/mathdrill/internal/sm2"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, sm2.DefaultConfig(), cfg.Scheduler)
	assert.Equal(t, difficulty.DefaultConfig(), cfg.Difficulty)
	assert.Equal(t, queue.DefaultConfig(), cfg.Queue)
}

func TestLoadLayers(t *testing.T) {
	path := writeConfig(t, `
store:
  path: /var/lib/mathdrill.db
server:
  addr: ":9000"
scheduler:
  initial_ease_factor: 2.3
queue:
  max_reviews: 40
  capacity_window: 72h
log:
  level: debug
`)
	t.Setenv("MATHDRILL_SERVER__ADDR", ":9100")
	t.Setenv("MATHDRILL_QUEUE__MIN_REVIEWS", "5")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--addr", ":9200", "--concurrency", "8"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/mathdrill.db", cfg.Store.Path, "file overrides default")
	assert.Equal(t, ":9200", cfg.Server.Addr, "flag overrides env and file")
	assert.Equal(t, 8, cfg.Sources.Concurrency)
	assert.Equal(t, 5, cfg.Queue.MinReviews, "env overrides default")
	assert.Equal(t, 40, cfg.Queue.MaxReviews)
	assert.Equal(t, 72*time.Hour, cfg.Queue.CapacityWindow)
	assert.InDelta(t, 2.3, cfg.Scheduler.InitialEaseFactor, 1e-9)
	assert.InDelta(t, 1.3, cfg.Scheduler.MinEaseFactor, 1e-9, "untouched keys keep defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "repos", cfg.Sources.ReposDir, "unchanged flags do not override")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":9000\"\n")
	t.Setenv("MATHDRILL_SERVER__ADDR", ":9100")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.Addr)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.ErrorContains(t, err, "config: file")

	_, err = Load(writeConfig(t, "log:\n  format: xml\n"), nil)
	assert.ErrorContains(t, err, "Format")

	_, err = Load(writeConfig(t, "queue:\n  min_reviews: 60\n  max_reviews: 50\n"), nil)
	assert.ErrorContains(t, err, "MaxReviews")

	_, err = Load(writeConfig(t, "scheduler:\n  initial_ease_factor: 1.1\n"), nil)
	assert.ErrorContains(t, err, "InitialEaseFactor")
}

func TestNewLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "user", "u1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "u1", entry["user"])
	assert.Same(t, logger, slog.Default())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelError, parseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}
