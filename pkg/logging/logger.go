// Package logging configures zerolog for the GLPI client and hands out
// component-scoped loggers.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Component names attached to every log line of a subsystem.
const (
	ComponentSession   = "session"
	ComponentClient    = "client"
	ComponentCache     = "cache"
	ComponentFields    = "fields"
	ComponentDashboard = "dashboard"
	ComponentRanking   = "ranking"
	ComponentTickets   = "tickets"
	ComponentService   = "service"
	ComponentServer    = "server"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}

	logger := zerolog.New(out).With().Timestamp().Str("service", "glpi-dashboard").Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache hits and misses (resource, subkey)
//   - Field discovery matches (role, field_id)
//   - Per-item batch completion
//
// Info: Normal operation events
//   - Session established or closed
//   - Snapshot and ranking computed
//   - Synthetic fallback data substituted
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts and re-authentication
//   - Failed count queries counted as zero
//   - Cache errors (value recomputed)
//
// Error: Error conditions requiring attention
//   - Authentication failed after retries
//   - Missing app or user token
//   - Both ranking paths failed
//
// Context Fields:
//   - endpoint: GLPI REST path
//   - status: HTTP status code
//   - attempt: retry attempt (1-based)
//   - backoff: wait before the next attempt
//   - resource, subkey: cache slot
//   - role, field_id: discovered search option
//   - level: service level
//   - error_class: unauthorized, client, server, network
