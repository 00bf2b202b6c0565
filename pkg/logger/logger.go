package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"paperreader/internal/domain"

	"github.com/rs/zerolog"
)

// AppLogger implements the domain.Logger interface on top of zerolog
type AppLogger struct {
	zl zerolog.Logger
}

// NewLogger creates a JSON logger writing to stdout
func NewLogger(levelStr string) domain.Logger {
	return NewLoggerWithFormat(levelStr, "json", os.Stdout)
}

// NewLoggerWithFormat creates a logger with the given level and format ("json" or "console")
func NewLoggerWithFormat(levelStr, format string, out io.Writer) domain.Logger {
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime}
	}

	zl := zerolog.New(out).
		Level(parseLogLevel(levelStr)).
		With().
		Timestamp().
		Str("service", "paperreader").
		Logger()

	return &AppLogger{zl: zl}
}

// Info logs an info message
func (l *AppLogger) Info(msg string, fields ...interface{}) {
	l.zl.Info().Fields(pairs(fields)).Msg(msg)
}

// Error logs an error message
func (l *AppLogger) Error(msg string, err error, fields ...interface{}) {
	l.zl.Error().Err(err).Fields(pairs(fields)).Msg(msg)
}

// Debug logs a debug message
func (l *AppLogger) Debug(msg string, fields ...interface{}) {
	l.zl.Debug().Fields(pairs(fields)).Msg(msg)
}

// Warn logs a warning message
func (l *AppLogger) Warn(msg string, fields ...interface{}) {
	l.zl.Warn().Fields(pairs(fields)).Msg(msg)
}

// pairs drops a trailing key without a value so zerolog never sees an odd list.
func pairs(fields []interface{}) []interface{} {
	if len(fields)%2 != 0 {
		return fields[:len(fields)-1]
	}
	return fields
}

// parseLogLevel converts string log level to a zerolog level
func parseLogLevel(levelStr string) zerolog.Level {
	switch strings.ToLower(levelStr) {
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
