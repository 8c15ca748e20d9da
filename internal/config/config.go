// Package config loads FinCrime Signals configuration from YAML files and
// FINCRIME_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/fincrime-signals/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FINCRIME_"

// Load reads a YAML file over base. ${VAR} references in the file are
// expanded from the environment before parsing. An empty path returns base
// unchanged.
func Load(path string, base *domain.Config) (*domain.Config, error) {
	if base == nil {
		base = domain.DefaultConfig()
	}
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := *base
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return &cfg, nil
}

// ApplyEnv overlays FINCRIME_* variables onto cfg. Unset or empty
// variables leave the field alone; malformed values are errors.
func ApplyEnv(cfg *domain.Config) error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := getEnv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := getEnv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := getEnv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	setInt("ROWS", &cfg.Generator.Rows)
	setInt("MONTHS", &cfg.Generator.Months)
	if v := getEnv("SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSEED: %w", EnvPrefix, err))
		} else {
			cfg.Generator.Seed = seed
		}
	}
	if v := getEnv("AS_OF"); v != "" {
		asOf, err := ParseAsOf(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sAS_OF: %w", EnvPrefix, err))
		} else {
			cfg.Generator.AsOf = asOf
		}
	}

	setString("CUSTOMERS", &cfg.Input.CustomersPath)
	setString("OUTPUT", &cfg.Output.Path)
	setBool("MATCHED_RULES", &cfg.Output.IncludeMatchedRules)

	setString("DB_DRIVER", &cfg.Repository.Driver)
	setString("SQLITE_PATH", &cfg.Repository.SQLitePath)
	setString("POSTGRES_HOST", &cfg.Repository.PostgresHost)
	setInt("POSTGRES_PORT", &cfg.Repository.PostgresPort)
	setString("POSTGRES_USER", &cfg.Repository.PostgresUser)
	setString("POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	setString("POSTGRES_DB", &cfg.Repository.PostgresDB)
	setString("POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)

	setString("CACHE_TYPE", &cfg.Cache.Type)
	setString("REDIS_ADDR", &cfg.Cache.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	setString("REDIS_PREFIX", &cfg.Cache.RedisKeyPrefix)
	setBool("CACHE_TWO_PHASE", &cfg.Cache.EnableTwoPhase)

	setString("BUS_TYPE", &cfg.EventBus.Type)
	setString("NATS_URL", &cfg.EventBus.NATSUrl)
	setString("NATS_TOKEN", &cfg.EventBus.NATSToken)
	setString("NATS_SUBJECT_PREFIX", &cfg.EventBus.NATSSubjectPrefix)
	setString("NATS_QUEUE_GROUP", &cfg.EventBus.NATSQueueGroup)

	setString("HOST", &cfg.Server.Host)
	setInt("PORT", &cfg.Server.Port)
	if v := getEnv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, o)
			}
		}
	}

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)
	if strings.EqualFold(getEnv("DEBUG"), "true") {
		cfg.Logging.Level = "debug"
	}

	setBool("TRACING", &cfg.Tracing.Enabled)

	return errors.Join(errs...)
}

// ParseAsOf accepts RFC 3339 or the transaction timestamp layout, both
// read as UTC when no zone is given.
func ParseAsOf(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(domain.TimestampLayout, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid as-of instant %q", v)
	}
	return t, nil
}

// Validate rejects configurations no run could succeed with.
func Validate(cfg *domain.Config) error {
	var errs []error

	if cfg.Generator.Rows < 0 {
		errs = append(errs, fmt.Errorf("rows must be >= 0, got %d", cfg.Generator.Rows))
	}
	if cfg.Generator.Months < 1 {
		errs = append(errs, fmt.Errorf("months must be >= 1, got %d", cfg.Generator.Months))
	}
	if cfg.Input.CustomersPath == "" {
		errs = append(errs, errors.New("customers path is required"))
	}
	if cfg.Output.Path == "" {
		errs = append(errs, errors.New("output path is required"))
	}

	switch cfg.Repository.Driver {
	case "", domain.DriverNone:
	case domain.DriverSQLite:
		if cfg.Repository.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite driver requires sqlitePath"))
		}
	case domain.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown repository driver %q", cfg.Repository.Driver))
	}

	switch cfg.Cache.Type {
	case "", "memory":
	case "redis":
		if cfg.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("redis cache requires redisAddr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache type %q", cfg.Cache.Type))
	}

	switch cfg.EventBus.Type {
	case "", "channel":
	case "nats":
	default:
		errs = append(errs, fmt.Errorf("unknown event bus type %q", cfg.EventBus.Type))
	}

	if _, err := parseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch cfg.Logging.Format {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", cfg.Logging.Format))
	}

	return errors.Join(errs...)
}

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(w io.Writer, cfg domain.LoggingConfig) *slog.Logger {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(v string) (slog.Level, error) {
	switch strings.ToLower(v) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", v)
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + key))
}
