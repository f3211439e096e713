// Package logging configures the process-wide zerolog logger from the
// LOG_LEVEL environment variable and hands out component-tagged child
// loggers.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init parses LOG_LEVEL from {TRACE, DEBUG, INFO, WARN, ERROR} (default
// INFO on unset or unrecognized) and installs it as the global zerolog
// level, writing to stderr with a console writer suited to interactive
// use, matching the server CLI's default output mode.
func Init() {
	zerolog.SetGlobalLevel(parseLevel(os.Getenv("LOG_LEVEL")))
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO", "":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component returns a logger tagged with the given component name
// (component=server, component=redis-server, ...).
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
