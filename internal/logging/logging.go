// Package logging configures the zerolog loggers shared by the proxy, the store
// server and the example binaries.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Log is the process-wide logger. Components that accept a logger default to it.
var Log zerolog.Logger

func init() {
	Log = New(&LogOptions{
		Level:  "info",
		Format: "text",
	})
}

// LogOptions configures the behavior of the logging system.
type LogOptions struct {
	Level  string    // Log level: debug, info, warn, error (default "info")
	Format string    // Output format: "json" or "text"
	Out    io.Writer // Destination (default os.Stdout)
}

// New builds a zerolog.Logger from opts and sets the global level so that
// disabled levels short-circuit before building events.
func New(opts *LogOptions) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Format != "json" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "2006-01-02 15:04:05",
		}
	}

	return zerolog.New(out).With().Timestamp().Logger()
}

// Configure replaces Log with a logger built from opts.
func Configure(opts *LogOptions) {
	Log = New(opts)
}

func Info(msg string, keyValues ...interface{}) {
	Log.Info().Fields(keyValues).Msg(msg)
}

func Debug(msg string, keyValues ...interface{}) {
	if e := Log.Debug(); e.Enabled() {
		e.Fields(keyValues).Msg(msg)
	}
}

func Warn(msg string, keyValues ...interface{}) {
	Log.Warn().Fields(keyValues).Msg(msg)
}

func Error(err error, msg string, keyValues ...interface{}) {
	Log.Error().Err(err).Fields(keyValues).Msg(msg)
}

func Fatal(err error, msg string, keyValues ...interface{}) {
	Log.Fatal().Err(err).Fields(keyValues).Msg(msg)
}
