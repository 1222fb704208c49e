package core

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger interface for structured logging
// Implementations can provide custom logging behavior (e.g., integration with logrus, zap, etc.)
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// F creates a new Field with the given key and value
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// DefaultLogger writes structured events through zerolog.
type DefaultLogger struct {
	zl zerolog.Logger
}

// NewDefaultLogger creates a DefaultLogger writing human-readable lines to
// stderr at info level.
func NewDefaultLogger() *DefaultLogger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return NewZerologLogger(zerolog.New(out).Level(zerolog.InfoLevel).With().Timestamp().Logger())
}

// NewJSONLogger creates a DefaultLogger emitting one JSON object per event.
func NewJSONLogger(w io.Writer, level zerolog.Level) *DefaultLogger {
	return NewZerologLogger(zerolog.New(w).Level(level).With().Timestamp().Logger())
}

// NewZerologLogger wraps an already configured zerolog logger.
func NewZerologLogger(zl zerolog.Logger) *DefaultLogger {
	return &DefaultLogger{zl: zl.With().Str("component", "taskscheduler").Logger()}
}

// Debug logs a debug message
func (l *DefaultLogger) Debug(msg string, fields ...Field) { emit(l.zl.Debug(), msg, fields) }

// Info logs an info message
func (l *DefaultLogger) Info(msg string, fields ...Field) { emit(l.zl.Info(), msg, fields) }

// Warn logs a warning message
func (l *DefaultLogger) Warn(msg string, fields ...Field) { emit(l.zl.Warn(), msg, fields) }

// Error logs an error message
func (l *DefaultLogger) Error(msg string, fields ...Field) { emit(l.zl.Error(), msg, fields) }

func emit(e *zerolog.Event, msg string, fields []Field) {
	if e == nil {
		// Level disabled.
		return
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			e = e.Str(f.Key, v)
		case int:
			e = e.Int(f.Key, v)
		case int64:
			e = e.Int64(f.Key, v)
		case uint64:
			e = e.Uint64(f.Key, v)
		case bool:
			e = e.Bool(f.Key, v)
		case time.Duration:
			e = e.Dur(f.Key, v)
		case error:
			e = e.AnErr(f.Key, v)
		case []byte:
			e = e.Bytes(f.Key, v)
		case fmt.Stringer:
			e = e.Stringer(f.Key, v)
		default:
			e = e.Interface(f.Key, v)
		}
	}
	e.Msg(msg)
}

// NoOpLogger is a logger that discards all log messages
// Useful for tests or when logging is not desired
type NoOpLogger struct{}

// NewNoOpLogger creates a new NoOpLogger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(msg string, fields ...Field) {}
func (l *NoOpLogger) Info(msg string, fields ...Field)  {}
func (l *NoOpLogger) Warn(msg string, fields ...Field)  {}
func (l *NoOpLogger) Error(msg string, fields ...Field) {}
