package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Database  DatabaseConfig
	Limits    LimitsConfig
	Retention RetentionConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// DatabaseConfig holds the persistence connection settings. An empty URL
// selects the in-memory repository (no durable state).
type DatabaseConfig struct {
	URL           string
	MigrationsDir string
}

// LimitsConfig carries the three capacity ceilings enforced at ingest time.
type LimitsConfig struct {
	MaxPerCollection int
	MaxTotalRecords  int
	MaxPayloadBytes  int64
	PageContextTTL   time.Duration
}

// RetentionConfig drives the periodic sweep of stale records.
type RetentionConfig struct {
	Window        time.Duration
	SweepInterval time.Duration
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"

	defaultMaxPerCollection = 50_000
	defaultMaxTotalRecords  = 200_000
	defaultMaxPayloadBytes  = 256 << 20
	defaultMaxBatchSize     = 200
	defaultMaxRecordPayload = 8 << 10
	defaultPageContextTTL   = 60 * time.Second

	defaultRetentionDays = 90
	defaultSweepInterval = 6 * time.Hour
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided.
func Load() (Config, error) {
	// Cloud platforms set PORT, but allow SERVER_PORT override for local dev
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MigrationsDir: getEnv("MIGRATIONS_DIR", "./migrations"),
		},
		Limits: LimitsConfig{
			MaxPerCollection: defaultMaxPerCollection,
			MaxTotalRecords:  defaultMaxTotalRecords,
			MaxPayloadBytes:  defaultMaxPayloadBytes,
			PageContextTTL:   defaultPageContextTTL,
		},
		Retention: RetentionConfig{
			Window:        defaultRetentionDays * 24 * time.Hour,
			SweepInterval: defaultSweepInterval,
		},
	}

	if v := os.Getenv("SERVER_READ_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_READ_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ReadTimeout = d
	}

	if v := os.Getenv("SERVER_WRITE_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.WriteTimeout = d
	}

	if v := os.Getenv("SERVER_SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ShutdownTimeout = d
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	if v := os.Getenv("MAX_RECORDS_PER_COLLECTION"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MAX_RECORDS_PER_COLLECTION: %w", err)
		}
		cfg.Limits.MaxPerCollection = n
	}

	if v := os.Getenv("MAX_RECORDS_TOTAL"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MAX_RECORDS_TOTAL: %w", err)
		}
		cfg.Limits.MaxTotalRecords = n
	}

	if v := os.Getenv("MAX_PAYLOAD_BYTES_TOTAL"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MAX_PAYLOAD_BYTES_TOTAL: %w", err)
		}
		cfg.Limits.MaxPayloadBytes = int64(n)
	}

	if v := os.Getenv("RETENTION_DAYS"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RETENTION_DAYS: %w", err)
		}
		cfg.Retention.Window = time.Duration(n) * 24 * time.Hour
	}

	if v := os.Getenv("SWEEP_INTERVAL_MINUTES"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SWEEP_INTERVAL_MINUTES: %w", err)
		}
		cfg.Retention.SweepInterval = time.Duration(n) * time.Minute
	}

	return cfg, nil
}

// AgentConfig represents the capture agent's configuration. MaxBatchSize and
// MaxRecordPayload bound the parser: candidates per intercepted response, and
// serialized payload bytes per record before allow-list truncation.
type AgentConfig struct {
	Logging          LoggingConfig
	StoreURL         string
	Accounts         []string
	PollInterval     time.Duration
	MaxBatchSize     int
	MaxRecordPayload int
}

// LoadAgent reads the capture agent configuration from environment variables.
func LoadAgent() (AgentConfig, error) {
	cfg := AgentConfig{
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		StoreURL:         getEnv("STORE_URL", "http://localhost:8080"),
		PollInterval:     5 * time.Minute,
		MaxBatchSize:     defaultMaxBatchSize,
		MaxRecordPayload: defaultMaxRecordPayload,
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return AgentConfig{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("WATCH_ACCOUNTS"); v != "" {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				cfg.Accounts = append(cfg.Accounts, name)
			}
		}
	}

	if v := os.Getenv("POLL_INTERVAL_MINUTES"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return AgentConfig{}, fmt.Errorf("invalid POLL_INTERVAL_MINUTES: %w", err)
		}
		cfg.PollInterval = time.Duration(n) * time.Minute
	}

	if v := os.Getenv("MAX_BATCH_SIZE"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return AgentConfig{}, fmt.Errorf("invalid MAX_BATCH_SIZE: %w", err)
		}
		cfg.MaxBatchSize = n
	}

	if v := os.Getenv("MAX_RECORD_PAYLOAD_BYTES"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return AgentConfig{}, fmt.Errorf("invalid MAX_RECORD_PAYLOAD_BYTES: %w", err)
		}
		cfg.MaxRecordPayload = n
	}

	return cfg, nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
