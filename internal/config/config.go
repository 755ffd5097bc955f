package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultAppName        = "MobileLedger"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultBackend        = BackendMemory
	defaultSQLitePath     = "ledger.db"
	defaultCurrencies     = "XAF"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultLockTimeout    = 5 * time.Second
	defaultLockLease      = 30 * time.Second
	defaultAuditInterval  = 5 * time.Minute
	defaultAuditWindow    = 24 * time.Hour
	defaultSweepInterval  = 10 * time.Minute
	defaultPostingRate    = 120
)

// Store backends selectable through STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	StoreBackend   string
	DatabaseURL    string
	SQLitePath     string
	RedisURL       string
	Currencies     []string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	LockTimeout    time.Duration
	LockLease      time.Duration
	AuditInterval  time.Duration
	AuditWindow    time.Duration
	SweepInterval  time.Duration
	PostingRate    int
}

// Load reads an optional .env file, then the environment, and populates a Config instance.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("APP_NAME", defaultAppName)
	v.SetDefault("APP_ENV", defaultAppEnv)
	v.SetDefault("PORT", defaultPort)
	v.SetDefault("LOG_LEVEL", defaultLogLevel)
	v.SetDefault("STORE_BACKEND", defaultBackend)
	v.SetDefault("SQLITE_PATH", defaultSQLitePath)
	v.SetDefault("LEDGER_CURRENCIES", defaultCurrencies)
	v.SetDefault("POSTING_RATE_LIMIT", defaultPostingRate)
	v.AutomaticEnv()
	return v
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		AppName:      v.GetString("APP_NAME"),
		AppEnv:       v.GetString("APP_ENV"),
		Port:         v.GetString("PORT"),
		LogLevel:     strings.ToLower(v.GetString("LOG_LEVEL")),
		StoreBackend: strings.ToLower(v.GetString("STORE_BACKEND")),
		DatabaseURL:  v.GetString("DATABASE_URL"),
		SQLitePath:   v.GetString("SQLITE_PATH"),
		RedisURL:     v.GetString("REDIS_URL"),
		Currencies:   splitCurrencies(v.GetString("LEDGER_CURRENCIES")),
		PostingRate:  v.GetInt("POSTING_RATE_LIMIT"),
	}

	// Tickers and timeouts need positive values. The TTL and the audit window accept
	// zero: no expiry, and the full history.
	durations := []struct {
		target   *time.Duration
		name     string
		fallback time.Duration
		positive bool
	}{
		{&cfg.ShutdownPeriod, "SHUTDOWN_TIMEOUT", defaultShutdownDelay, true},
		{&cfg.IdempotencyTTL, "IDEMPOTENCY_TTL", defaultIdempotencyTTL, false},
		{&cfg.LockTimeout, "LOCK_TIMEOUT", defaultLockTimeout, true},
		{&cfg.LockLease, "LOCK_LEASE", defaultLockLease, true},
		{&cfg.AuditInterval, "AUDIT_INTERVAL", defaultAuditInterval, true},
		{&cfg.AuditWindow, "AUDIT_WINDOW", defaultAuditWindow, false},
		{&cfg.SweepInterval, "SWEEP_INTERVAL", defaultSweepInterval, true},
	}
	for _, d := range durations {
		value, err := duration(v, d.name, d.fallback)
		if err != nil {
			return Config{}, err
		}
		if d.positive && value <= 0 {
			return Config{}, fmt.Errorf("%s must be positive, got %s", d.name, value)
		}
		if value < 0 {
			return Config{}, fmt.Errorf("%s cannot be negative, got %s", d.name, value)
		}
		*d.target = value
	}

	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set for the postgres backend")
		}
	case BackendSQLite:
		if cfg.SQLitePath == "" {
			return Config{}, fmt.Errorf("SQLITE_PATH must be set for the sqlite backend")
		}
	default:
		return Config{}, fmt.Errorf("invalid STORE_BACKEND %q", cfg.StoreBackend)
	}

	if len(cfg.Currencies) == 0 {
		return Config{}, fmt.Errorf("LEDGER_CURRENCIES must list at least one currency")
	}

	return cfg, nil
}

// duration reads NAME_SECONDS first and falls back to NAME as a Go duration string.
func duration(v *viper.Viper, name string, fallback time.Duration) (time.Duration, error) {
	secondsKey := name + "_SECONDS"
	if raw := v.GetString(secondsKey); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if raw := v.GetString(name); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return d, nil
	}
	return fallback, nil
}

func splitCurrencies(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if c := strings.ToUpper(strings.TrimSpace(part)); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
