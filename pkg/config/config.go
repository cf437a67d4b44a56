// Package config loads the guardrail engine's runtime configuration from
// the environment and its governance defaults from a YAML policy file.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds process configuration.
type Config struct {
	LogLevel              string
	Store                 string
	SQLitePath            string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	TokenSecret           string
	ExplainTokens         bool
	RequireBrokerFailSafe bool
	PolicyFile            string
	OTLPEndpoint          string
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	backend := strings.ToLower(os.Getenv("TAJIR_STORE"))
	if backend == "" {
		backend = StoreSQLite
	}

	sqlitePath := os.Getenv("TAJIR_SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "tajir.db"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://tajir@localhost:5432/tajir?sslmode=disable"
	}

	return &Config{
		LogLevel:              logLevel,
		Store:                 backend,
		SQLitePath:            sqlitePath,
		DatabaseURL:           dbURL,
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		TokenSecret:           os.Getenv("TAJIR_TOKEN_SECRET"),
		ExplainTokens:         envBool("TAJIR_EXPLAIN_TOKENS", true),
		RequireBrokerFailSafe: envBool("TAJIR_REQUIRE_BROKER_FAILSAFE", false),
		PolicyFile:            os.Getenv("TAJIR_POLICY_FILE"),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

// SlogLevel maps LogLevel onto a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
