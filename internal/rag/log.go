// Package rag holds the shared building blocks of the retrieval gateway:
// the leveled logger, the error taxonomy the HTTP layer maps to status
// codes, token estimation, and the chunk record types that flow between
// the pipelines, the providers, and the vector store.
package rag

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// LogLevel represents the severity level of a log message.
// Higher values indicate more verbose logging.
type LogLevel int

const (
	// LogLevelOff disables all logging
	LogLevelOff LogLevel = iota
	// LogLevelError enables only error messages
	LogLevelError
	// LogLevelWarn enables error and warning messages
	LogLevelWarn
	// LogLevelInfo enables error, warning, and info messages
	LogLevelInfo
	// LogLevelDebug enables all messages including debug
	LogLevelDebug
)

// Logger defines the interface for logging operations. Implementations
// must support multiple severity levels and structured key-value pairs.
type Logger interface {
	// Debug logs a message at debug level with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})
	// Info logs a message at info level with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})
	// Warn logs a message at warning level with optional key-value pairs
	Warn(msg string, keysAndValues ...interface{})
	// Error logs a message at error level with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
	// SetLevel changes the current logging level
	SetLevel(level LogLevel)
}

// DefaultLogger writes leveled, structured lines to os.Stderr through the
// standard library's log package. Key-value pairs are rendered as k=v so
// access lines stay grep-able.
type DefaultLogger struct {
	logger *log.Logger
	level  LogLevel
}

// NewLogger creates a DefaultLogger writing to os.Stderr at the given level.
func NewLogger(level LogLevel) Logger {
	return &DefaultLogger{
		logger: log.New(os.Stderr, "", log.LstdFlags),
		level:  level,
	}
}

// SetLevel updates the logging level. Messages below it are dropped.
func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.level = level
}

func (l *DefaultLogger) log(level LogLevel, msg string, keysAndValues ...interface{}) {
	if level > l.level {
		return
	}
	if len(keysAndValues) == 0 {
		l.logger.Printf("%s: %s", level, msg)
		return
	}
	l.logger.Printf("%s: %s %s", level, msg, formatPairs(keysAndValues))
}

// formatPairs renders [k1, v1, k2, v2, ...] as "k1=v1 k2=v2". A trailing
// odd element is kept with an empty value rather than dropped.
func formatPairs(kv []interface{}) string {
	var b strings.Builder
	for i := 0; i < len(kv); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		if i+1 < len(kv) {
			fmt.Fprintf(&b, "%v=%v", kv[i], kv[i+1])
		} else {
			fmt.Fprintf(&b, "%v=", kv[i])
		}
	}
	return b.String()
}

// Debug logs a message at debug level.
func (l *DefaultLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(LogLevelDebug, msg, keysAndValues...)
}

// Info logs a message at info level.
func (l *DefaultLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log(LogLevelInfo, msg, keysAndValues...)
}

// Warn logs a message at warning level.
func (l *DefaultLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(LogLevelWarn, msg, keysAndValues...)
}

// Error logs a message at error level.
func (l *DefaultLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log(LogLevelError, msg, keysAndValues...)
}

// String returns the string representation of a LogLevel.
func (l LogLevel) String() string {
	if l < LogLevelOff || l > LogLevelDebug {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return [...]string{"OFF", "ERROR", "WARN", "INFO", "DEBUG"}[l]
}

// UnmarshalText implements encoding.TextUnmarshaler so LogLevel can be set
// from config files or environment variables.
func (l *LogLevel) UnmarshalText(text []byte) error {
	switch strings.ToUpper(string(text)) {
	case "OFF":
		*l = LogLevelOff
	case "ERROR":
		*l = LogLevelError
	case "WARN":
		*l = LogLevelWarn
	case "INFO":
		*l = LogLevelInfo
	case "DEBUG":
		*l = LogLevelDebug
	default:
		return fmt.Errorf("invalid log level: %s", string(text))
	}
	return nil
}

// GlobalLogger is the package-level logger shared across the gateway.
var GlobalLogger Logger

func init() {
	GlobalLogger = NewLogger(levelFromEnv())
}

// levelFromEnv resolves the startup log level: GATEWAY_DEBUG forces DEBUG,
// otherwise RAG_LOG_LEVEL is honored, otherwise INFO.
func levelFromEnv() LogLevel {
	switch strings.ToLower(os.Getenv("GATEWAY_DEBUG")) {
	case "1", "true", "yes":
		return LogLevelDebug
	}
	level := LogLevelInfo
	if raw := os.Getenv("RAG_LOG_LEVEL"); raw != "" {
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			return LogLevelInfo
		}
	}
	return level
}

// SetGlobalLogLevel sets the log level for the global logger instance.
func SetGlobalLogLevel(level LogLevel) {
	GlobalLogger.SetLevel(level)
}
