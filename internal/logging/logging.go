// Package logging builds the structured logger shared across the core.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger for the given level/format pair, matching the
// console-vs-JSON split used across the gateway's variants: pretty console
// output for local development, JSON for production scraping.
func New(level, format string) zerolog.Logger {
	var output io.Writer = os.Stdout

	zerolog.SetGlobalLevel(parseLevel(level))

	if format == "console" {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "gatewaycore").
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// LogPanic records a recovered panic with its stack trace. Background loops
// call this from a deferred recover() so a single worker's panic never takes
// down the process (§7: background loops never crash the process).
func LogPanic(logger zerolog.Logger, panicValue interface{}, msg string, fields map[string]interface{}) {
	event := logger.Error().
		Interface("panic_value", panicValue).
		Str("stack_trace", string(debug.Stack()))

	for k, v := range fields {
		event = event.Interface(k, v)
	}

	event.Msg(msg)
}
