package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Load from an isolated directory so no stray config.yaml applies.
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8649, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "reencodarr.db", cfg.Database.DSN)
	assert.Equal(t, 500, cfg.Analyzer.RateLimit)
	assert.Equal(t, 8, cfg.Analyzer.MediainfoBatchSize)
	assert.Equal(t, 30*24*time.Hour, cfg.Encoder.Timeout)
	assert.Empty(t, cfg.Scheduler.MissingPathSweep)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
database:
  driver: postgres
  dsn: host=localhost dbname=reencodarr
intake:
  min_size: 5MB
scheduler:
  missing_path_sweep: "0 3 * * *"
  failure_retention: 720h
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.EqualValues(t, 5<<20, cfg.Intake.MinSize.Bytes())
	assert.Equal(t, "0 3 * * *", cfg.Scheduler.MissingPathSweep)
	assert.Equal(t, 720*time.Hour, cfg.Scheduler.FailureRetention)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REENCODARR_SERVER_PORT", "7777")
	t.Setenv("REENCODARR_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load("")
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"batch below bound", func(c *Config) { c.Analyzer.MediainfoBatchSize = 2 }},
		{"rate above bound", func(c *Config) { c.Analyzer.RateLimit = 5000 }},
		{"no encoder timeout", func(c *Config) { c.Encoder.Timeout = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := *base
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestTempDirFallback(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, filepath.Join(os.TempDir(), "ab-av1"), cfg.TempDir())

	cfg.Storage.TempDir = "/data/tmp"
	assert.Equal(t, "/data/tmp", cfg.TempDir())
}

func TestParseByteSize(t *testing.T) {
	size, err := ParseByteSize("1.5GB")
	require.NoError(t, err)
	assert.EqualValues(t, int64(1.5*float64(1<<30)), size.Bytes())

	var b ByteSize
	require.NoError(t, b.UnmarshalJSON([]byte(`"5MB"`)))
	assert.EqualValues(t, 5<<20, b.Bytes())

	require.NoError(t, b.UnmarshalJSON([]byte(`1024`)))
	assert.EqualValues(t, 1024, b.Bytes())

	_, err = ParseByteSize("bogus")
	assert.Error(t, err)
}
