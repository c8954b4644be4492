package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/lotgate/internal/config"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := config.FromEnv()

	require.Equal(t, int64(500), cfg.RatePerHour)
	require.Equal(t, 15*time.Minute, cfg.GracePeriod())
	require.Equal(t, 15*time.Second, cfg.GateHold())
	require.Equal(t, 5*time.Second, cfg.ExitAlertHold())
	require.Equal(t, 300*time.Second, cfg.EntryCooldown())
	require.Equal(t, 60*time.Second, cfg.ExitDenyCooldown())
	require.Equal(t, 500*time.Millisecond, cfg.PollInterval())
	require.Equal(t, 3, cfg.WindowSize)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("LOTGATE_RATE_PER_HOUR", "800")
	t.Setenv("LOTGATE_ENV", "staging")
	t.Setenv("LOTGATE_PLATE_PREFIX", "ra")
	t.Setenv("LOTGATE_GATE_HOLD_SECONDS", "not-a-number")

	cfg := config.FromEnv()

	require.Equal(t, int64(800), cfg.RatePerHour)
	require.Equal(t, "dev", cfg.Env, "unknown env falls back to dev")
	require.Equal(t, "RA", cfg.PlatePrefix)
	require.Equal(t, 15*time.Second, cfg.GateHold(), "bad ints keep the default")
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lotgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rate_per_hour: 600\ngrace_minutes: 20\nhttp_addr: \":9999\"\n"), 0o600))

	t.Setenv("LOTGATE_CONFIG_FILE", path)
	t.Setenv("LOTGATE_GRACE_MINUTES", "10")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, int64(600), cfg.RatePerHour)
	require.Equal(t, ":9999", cfg.HTTPAddr)
	require.Equal(t, 10*time.Minute, cfg.GracePeriod(), "env wins over file")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("LOTGATE_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := config.Load()
	require.Error(t, err)
}

func TestJournalPath_PerAgent(t *testing.T) {
	cfg := config.Defaults()
	cfg.OperatorDBPath = filepath.Join("data", "operator.db")

	require.Equal(t, filepath.Join("data", "operator-exit.db"), cfg.JournalPath("exit"))
	require.Equal(t, cfg.OperatorDBPath, cfg.JournalPath(""))
}

func TestFromEnv_ZeroTimingsFallBack(t *testing.T) {
	t.Setenv("LOTGATE_CAPTURE_TIMEOUT_SECONDS", "0")
	t.Setenv("LOTGATE_GATE_HOLD_SECONDS", "0")

	cfg := config.FromEnv()
	require.Equal(t, 10*time.Second, cfg.CaptureTimeout())
	require.Equal(t, 15*time.Second, cfg.GateHold())
}
