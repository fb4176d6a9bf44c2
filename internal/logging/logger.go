package logging

import (
	"context"
	"time"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Field is a structured key/value pair attached to a log message
type Field struct {
	Key   string
	Value interface{}
}

// F creates a log field
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err creates a log field for an error value
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// LogEntry is the JSON shape written by file-based loggers
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	TraceID   string                 `json:"trace_id,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger is the logging interface used throughout cloudsync
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithTraceID(traceID string) Logger
	WithContext(ctx context.Context) Logger
	SetLevel(level LogLevel)
	Close() error
}

type traceIDKey struct{}

// ContextWithTraceID returns a context carrying the given trace ID
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext extracts the trace ID from a context, if present
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(traceIDKey{}).(string); ok {
		return id
	}
	return ""
}

// NopLogger discards all log messages
type NopLogger struct{}

// NewNopLogger creates a logger that discards everything
func NewNopLogger() *NopLogger { return &NopLogger{} }

func (n *NopLogger) Debug(string, ...Field)             {}
func (n *NopLogger) Info(string, ...Field)              {}
func (n *NopLogger) Warn(string, ...Field)              {}
func (n *NopLogger) Error(string, ...Field)             {}
func (n *NopLogger) WithTraceID(string) Logger          { return n }
func (n *NopLogger) WithContext(context.Context) Logger { return n }
func (n *NopLogger) SetLevel(LogLevel)                  {}
func (n *NopLogger) Close() error                       { return nil }
