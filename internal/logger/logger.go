// Package logger provides the gateway's process-level structured logger.
//
// This is deliberately separate from internal/audit: this package logs for
// operators (free-form, process-scoped, not queryable at runtime); audit
// emits a bounded, structured, queryable security trail (spec §2, C2). A
// gateway decision is usually both logged here (for operators tailing
// stdout) and recorded in the audit ring (for compliance/security review).
package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Log is the process-wide logger, configured by Initialize.
var Log zerolog.Logger

// Initialize configures the global logger. level is any zerolog level name
// ("debug", "info", "warn", "error"); pretty selects a human-readable
// console writer instead of JSON (useful in local development).
func Initialize(level string, pretty bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = log.With().
		Str("service", "mcp-security-gateway").
		Logger()

	Log.Info().
		Str("level", logLevel.String()).
		Bool("pretty", pretty).
		Msg("logger initialized")
}

// GetLogger returns the global logger instance.
func GetLogger() *zerolog.Logger {
	return &Log
}

// Gateway returns a logger scoped to the request pipeline (C7).
func Gateway() *zerolog.Logger {
	l := Log.With().Str("component", "gateway").Logger()
	return &l
}

// Auth returns a logger scoped to token issuance/verification (C4).
func Auth() *zerolog.Logger {
	l := Log.With().Str("component", "auth").Logger()
	return &l
}

// Session returns a logger scoped to session lifecycle events (C5).
func Session() *zerolog.Logger {
	l := Log.With().Str("component", "session").Logger()
	return &l
}

// RateLimit returns a logger scoped to rate-limit decisions (C3).
func RateLimit() *zerolog.Logger {
	l := Log.With().Str("component", "ratelimit").Logger()
	return &l
}

// Vault returns a logger scoped to secret storage events (C1).
func Vault() *zerolog.Logger {
	l := Log.With().Str("component", "vault").Logger()
	return &l
}

// Audit returns a logger scoped to audit-sink plumbing (C2). This is the
// operator-facing log of the audit subsystem itself (e.g. "sink failed"),
// not the audit entries it records.
func Audit() *zerolog.Logger {
	l := Log.With().Str("component", "audit").Logger()
	return &l
}
