package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exocal-client/internal/domain"
)

// TestDefaultSettings verifies baseline defaults are present.
func TestDefaultSettings(t *testing.T) {
	cfg := DefaultSettings()
	assert.Equal(t, DefaultServiceBase, cfg.ServiceBase)
	assert.Equal(t, 50, cfg.LimitTargets)
	assert.Equal(t, 7, cfg.Seed)
	assert.Equal(t, 200*time.Millisecond, cfg.PollInterval)
	assert.Zero(t, cfg.PollMaxAttempts, "polling is unbounded by default")
	assert.NotEmpty(t, cfg.OutputDir)
}

// TestFileStoreLoadMissingReturnsDefaults checks first-run behavior.
func TestFileStoreLoadMissingReturnsDefaults(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing", "settings.yaml"))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), got)
}

// TestFileStoreSaveAndLoadRoundTrip checks persisted settings fidelity.
func TestFileStoreSaveAndLoadRoundTrip(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "cfg", "settings.yaml"))
	want := domain.Settings{
		ServiceBase:          "https://svc.example",
		OutputDir:            "/out",
		LimitTargets:         120,
		Seed:                 9,
		PollInterval:         time.Second,
		PollMaxAttempts:      30,
		PollTransportRetries: 2,
		RequestTimeout:       15 * time.Second,
		RequestsPerSecond:    4,
		LogLevel:             "debug",
	}

	require.NoError(t, store.Save(want))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// TestFileStoreEnvOverridesFile checks EXOCAL_* precedence.
func TestFileStoreEnvOverridesFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "settings.yaml"))
	cfg := DefaultSettings()
	cfg.ServiceBase = "https://from-file.example"
	require.NoError(t, store.Save(cfg))

	t.Setenv("EXOCAL_SERVICE_BASE", "http://localhost:8000")
	t.Setenv("EXOCAL_POLL_INTERVAL", "1s")
	t.Setenv("EXOCAL_LIMIT_TARGETS", "75")

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000", got.ServiceBase)
	assert.Equal(t, time.Second, got.PollInterval)
	assert.Equal(t, 75, got.LimitTargets)
}

// TestFileStoreLoadInvalidYAML checks parse error handling.
func TestFileStoreLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("service_base: [unterminated"), 0o644))

	_, err := NewFileStore(path).Load()
	require.Error(t, err)
}

// TestNormalizeSettingsReplacesInvalidValues checks fallback behavior.
func TestNormalizeSettingsReplacesInvalidValues(t *testing.T) {
	defaults := DefaultSettings()
	in := domain.Settings{
		ServiceBase:     " not a url ",
		OutputDir:       "  ",
		LimitTargets:    5000,
		Seed:            0,
		PollInterval:    0,
		PollMaxAttempts: -1,
		LogLevel:        "LOUD",
	}

	got := NormalizeSettings(in)
	assert.Equal(t, defaults.ServiceBase, got.ServiceBase)
	assert.Equal(t, defaults.OutputDir, got.OutputDir)
	assert.Equal(t, 50, got.LimitTargets)
	assert.Equal(t, 7, got.Seed)
	assert.Equal(t, DefaultPollInterval, got.PollInterval)
	assert.Zero(t, got.PollMaxAttempts)
	assert.Equal(t, "info", got.LogLevel)
}

// TestNormalizeSettingsTrimsServiceBase keeps valid values intact.
func TestNormalizeSettingsTrimsServiceBase(t *testing.T) {
	in := DefaultSettings()
	in.ServiceBase = "https://svc.example/ "
	in.Seed = 42

	got := NormalizeSettings(in)
	assert.Equal(t, "https://svc.example", got.ServiceBase)
	assert.Equal(t, 42, got.Seed)
}

// TestFileStoreFlagsOverrideEnv checks changed flags take precedence.
func TestFileStoreFlagsOverrideEnv(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "settings.yaml"))
	t.Setenv("EXOCAL_SEED", "12")
	t.Setenv("EXOCAL_LIMIT_TARGETS", "75")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("seed", 7, "")
	fs.Int("limit-targets", 50, "")
	fs.Duration("poll-interval", DefaultPollInterval, "")
	require.NoError(t, fs.Parse([]string{"--seed=33", "--poll-interval=500ms"}))
	store.BindFlags(fs)

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 33, got.Seed)
	assert.Equal(t, 75, got.LimitTargets, "unchanged flags do not mask env")
	assert.Equal(t, 500*time.Millisecond, got.PollInterval)
}
