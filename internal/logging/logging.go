// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelFromString maps a config level name to a zerolog level. Unknown
// names give info.
func LevelFromString(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// Setup replaces the global logger. JSON output is meant for the daemon;
// interactive commands get the console writer.
func Setup(level string, json bool, w io.Writer) zerolog.Logger {
	out := w
	if !json {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen, NoColor: true}
	}
	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	SetLevel(level)
	return logger
}

// SetLevel changes the level for every logger, including component loggers
// derived before the call.
func SetLevel(level string) {
	zerolog.SetGlobalLevel(LevelFromString(level))
}
