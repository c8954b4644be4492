package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`

	// DB
	Env    string `yaml:"env"`     // "dev" | "prod"
	DBPath string `yaml:"db_path"` // e.g. "./data/parking.db"

	// Hardware link: "" (absent), a device path, or tcp://host:port.
	HardwareAddr string `yaml:"hardware_addr"`

	// Billing
	RatePerHour           int64 `yaml:"rate_per_hour"`
	GraceMinutes          int   `yaml:"grace_minutes"`
	CaptureTimeoutSeconds int   `yaml:"capture_timeout_seconds"`

	// Interlock holds
	GateHoldSeconds       int `yaml:"gate_hold_seconds"`
	EntryAlertHoldSeconds int `yaml:"entry_alert_hold_seconds"`
	ExitAlertHoldSeconds  int `yaml:"exit_alert_hold_seconds"`

	// Recognition
	WindowSize              int    `yaml:"window_size"`
	EntryCooldownSeconds    int    `yaml:"entry_cooldown_seconds"`
	ExitDenyCooldownSeconds int    `yaml:"exit_deny_cooldown_seconds"`
	PlatePrefix             string `yaml:"plate_prefix"`

	// Dashboard
	PollIntervalMs int     `yaml:"poll_interval_ms"`
	TimeZone       string  `yaml:"time_zone"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	OperatorDBPath string `yaml:"operator_db_path"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
}

func Defaults() Config {
	return Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":9090",
		Env:      "dev",
		DBPath:   "./data/parking.db",

		RatePerHour:           500,
		GraceMinutes:          15,
		CaptureTimeoutSeconds: 10,

		GateHoldSeconds:       15,
		EntryAlertHoldSeconds: 15,
		ExitAlertHoldSeconds:  5,

		WindowSize:              3,
		EntryCooldownSeconds:    300,
		ExitDenyCooldownSeconds: 60,

		PollIntervalMs: 500,
		TimeZone:       "Local",
		RateLimitRPS:   10,
		RateLimitBurst: 20,

		OperatorDBPath: "./data/operator.db",
	}
}

// Load applies, in order: defaults, the YAML file named by
// LOTGATE_CONFIG_FILE (if any), then LOTGATE_* environment variables.
func Load() (Config, error) {
	base := Defaults()
	if path := strings.TrimSpace(os.Getenv("LOTGATE_CONFIG_FILE")); path != "" {
		if err := applyFile(&base, path); err != nil {
			return Config{}, err
		}
	}
	return fromEnv(base), nil
}

// FromEnv is Load without the file overlay.
func FromEnv() Config {
	return fromEnv(Defaults())
}

func applyFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func fromEnv(c Config) Config {
	c.HTTPAddr = getenvDefault("LOTGATE_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getenvDefault("LOTGATE_GRPC_ADDR", c.GRPCAddr)

	c.Env = strings.ToLower(getenvDefault("LOTGATE_ENV", c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}

	c.DBPath = getenvDefault("LOTGATE_DB_PATH", c.DBPath)
	c.HardwareAddr = getenvDefault("LOTGATE_HARDWARE_ADDR", c.HardwareAddr)

	c.RatePerHour = int64(getenvInt("LOTGATE_RATE_PER_HOUR", int(c.RatePerHour)))
	c.GraceMinutes = getenvInt("LOTGATE_GRACE_MINUTES", c.GraceMinutes)
	c.CaptureTimeoutSeconds = getenvInt("LOTGATE_CAPTURE_TIMEOUT_SECONDS", c.CaptureTimeoutSeconds)

	c.GateHoldSeconds = getenvInt("LOTGATE_GATE_HOLD_SECONDS", c.GateHoldSeconds)
	c.EntryAlertHoldSeconds = getenvInt("LOTGATE_ENTRY_ALERT_HOLD_SECONDS", c.EntryAlertHoldSeconds)
	c.ExitAlertHoldSeconds = getenvInt("LOTGATE_EXIT_ALERT_HOLD_SECONDS", c.ExitAlertHoldSeconds)

	c.WindowSize = getenvInt("LOTGATE_WINDOW_SIZE", c.WindowSize)
	c.EntryCooldownSeconds = getenvInt("LOTGATE_ENTRY_COOLDOWN_SECONDS", c.EntryCooldownSeconds)
	c.ExitDenyCooldownSeconds = getenvInt("LOTGATE_EXIT_DENY_COOLDOWN_SECONDS", c.ExitDenyCooldownSeconds)
	c.PlatePrefix = strings.ToUpper(getenvDefault("LOTGATE_PLATE_PREFIX", c.PlatePrefix))

	c.PollIntervalMs = getenvInt("LOTGATE_POLL_INTERVAL_MS", c.PollIntervalMs)
	c.TimeZone = getenvDefault("LOTGATE_TIME_ZONE", c.TimeZone)
	c.RateLimitRPS = getenvFloat("LOTGATE_RATE_LIMIT_RPS", c.RateLimitRPS)
	c.RateLimitBurst = getenvInt("LOTGATE_RATE_LIMIT_BURST", c.RateLimitBurst)

	c.OperatorDBPath = getenvDefault("LOTGATE_OPERATOR_DB_PATH", c.OperatorDBPath)
	c.OTLPEndpoint = getenvDefault("LOTGATE_OTLP_ENDPOINT", c.OTLPEndpoint)

	if c.WindowSize <= 0 {
		c.WindowSize = 3
	}
	if c.CaptureTimeoutSeconds <= 0 {
		c.CaptureTimeoutSeconds = 10
	}
	if c.GateHoldSeconds <= 0 {
		c.GateHoldSeconds = 15
	}
	return c
}

func (c Config) GracePeriod() time.Duration {
	return time.Duration(c.GraceMinutes) * time.Minute
}

func (c Config) CaptureTimeout() time.Duration {
	return time.Duration(c.CaptureTimeoutSeconds) * time.Second
}

func (c Config) GateHold() time.Duration {
	return time.Duration(c.GateHoldSeconds) * time.Second
}

func (c Config) EntryAlertHold() time.Duration {
	return time.Duration(c.EntryAlertHoldSeconds) * time.Second
}

func (c Config) ExitAlertHold() time.Duration {
	return time.Duration(c.ExitAlertHoldSeconds) * time.Second
}

func (c Config) EntryCooldown() time.Duration {
	return time.Duration(c.EntryCooldownSeconds) * time.Second
}

func (c Config) ExitDenyCooldown() time.Duration {
	return time.Duration(c.ExitDenyCooldownSeconds) * time.Second
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// JournalPath is the operator journal file for one agent.  Each process
// holds its journal's file lock, so agents sharing a data directory get
// "operator-entry.db", "operator-exit.db" and so on.
func (c Config) JournalPath(agent string) string {
	if agent == "" {
		return c.OperatorDBPath
	}
	ext := filepath.Ext(c.OperatorDBPath)
	return strings.TrimSuffix(c.OperatorDBPath, ext) + "-" + agent + ext
}

// Location resolves TimeZone; unknown names fall back to time.Local.
func (c Config) Location() *time.Location {
	if c.TimeZone == "" || strings.EqualFold(c.TimeZone, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}
