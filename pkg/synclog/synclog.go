// Package synclog wraps zerolog the way the rest of the codebase expects a
// logger to be configured and fielded, generalized from per-cluster-node
// context (component, node_id, service_id, task_id) to per-sync-session
// context (component, client_file_ident, session_ident, query_version).
package synclog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance.
	Logger zerolog.Logger
)

// Level represents a log level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger tagged with the owning package.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithClientFile creates a child logger tagged with the client file
// identity assigned by the server (spec.md §4.G), once known.
func WithClientFile(fileIdent uint64) zerolog.Logger {
	return Logger.With().Uint64("client_file_ident", fileIdent).Logger()
}

// WithSession creates a child logger tagged with a wire session ident
// (spec.md §4.K).
func WithSession(sessionIdent uint64) zerolog.Logger {
	return Logger.With().Uint64("session_ident", sessionIdent).Logger()
}

// WithQueryVersion creates a child logger tagged with an FLX subscription
// set's query version (spec.md §4.J).
func WithQueryVersion(queryVersion int64) zerolog.Logger {
	return Logger.With().Int64("query_version", queryVersion).Logger()
}

func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
