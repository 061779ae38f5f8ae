package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, runtime.GOMAXPROCS(0), cfg.Scheduler.DefaultWorkers)
	assert.Equal(t, 64, cfg.Scheduler.IOWorkers)
	assert.Equal(t, 300*time.Millisecond, cfg.Broadcast.GracePeriod)
	assert.Equal(t, "INFO", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Empty(t, cfg.Metrics.Addr)
	assert.Len(t, cfg.SchedulerOptions(), 2)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLOWSCOPE_SCHEDULER_IO_WORKERS", "8")
	t.Setenv("FLOWSCOPE_BROADCAST_GRACE_PERIOD", "250ms")
	t.Setenv("FLOWSCOPE_LOG_LEVEL", "debug")
	t.Setenv("FLOWSCOPE_METRICS_ADDR", ":9100")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Scheduler.IOWorkers)
	assert.Equal(t, 250*time.Millisecond, cfg.Broadcast.GracePeriod)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestFileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  io_workers: 16\nlog:\n  format: json\n"), 0o644))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("io-workers", 0, "")
	require.NoError(t, flags.Parse([]string{"--io-workers=32"}))

	v := New()
	require.NoError(t, BindFlags(v, flags, map[string]string{"io-workers": "scheduler.io_workers"}))
	cfg, err := Load(v, path)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Scheduler.IOWorkers, "a set flag wins over the file")
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestBindUnknownFlag(t *testing.T) {
	err := BindFlags(New(), pflag.NewFlagSet("test", pflag.ContinueOnError), map[string]string{"nope": "log.level"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.IOWorkers = -1
	cfg.Broadcast.GracePeriod = -time.Second
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	for _, key := range []string{"scheduler.io_workers", "broadcast.grace_period", "log.level", "log.format"} {
		assert.ErrorContains(t, err, key)
	}

	good := Default()
	assert.NoError(t, good.Validate())
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Setenv("FLOWSCOPE_LOG_FORMAT", "xml")
	_, err := Load(New(), "")
	assert.ErrorContains(t, err, "log.format")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
