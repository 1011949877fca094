package voicebridge

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	// LogLevelDebug logs everything including detailed debugging information
	LogLevelDebug LogLevel = iota
	// LogLevelInfo logs informational messages and above
	LogLevelInfo
	// LogLevelWarn logs warnings and above
	LogLevelWarn
	// LogLevelError logs only errors
	LogLevelError
	// LogLevelOff disables all logging
	LogLevelOff
)

// String returns the string representation of a LogLevel
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a string to LogLevel
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return LogLevelDebug
	case "INFO":
		return LogLevelInfo
	case "WARN", "WARNING":
		return LogLevelWarn
	case "ERROR":
		return LogLevelError
	case "OFF":
		return LogLevelOff
	default:
		return LogLevelInfo
	}
}

// Logger provides structured, leveled logging. Context fields attached with
// With are included in every message, which keeps per-session log lines
// attributable without threading identifiers through call sites.
type Logger struct {
	level  LogLevel
	prefix string
	fields map[string]any
	logger *log.Logger
}

// NewLogger creates a new structured logger writing to stderr.
func NewLogger(level LogLevel) *Logger {
	return &Logger{
		level:  level,
		prefix: "[voicebridge]",
		logger: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
	}
}

// NewLoggerFromEnv creates a logger with level from VOICEBRIDGE_LOG_LEVEL.
func NewLoggerFromEnv() *Logger {
	return NewLogger(ParseLogLevel(os.Getenv("VOICEBRIDGE_LOG_LEVEL")))
}

// SetLevel updates the logger's minimum level.
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
}

// With returns a logger that includes the given fields in all messages.
// The receiver is not modified.
func (l *Logger) With(fields map[string]any) *Logger {
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{level: l.level, prefix: l.prefix, fields: merged, logger: l.logger}
}

// Debug logs debug-level messages
func (l *Logger) Debug(event string, fields map[string]any) { l.log(LogLevelDebug, event, fields) }

// Info logs info-level messages
func (l *Logger) Info(event string, fields map[string]any) { l.log(LogLevelInfo, event, fields) }

// Warn logs warning-level messages
func (l *Logger) Warn(event string, fields map[string]any) { l.log(LogLevelWarn, event, fields) }

// Error logs error-level messages
func (l *Logger) Error(event string, fields map[string]any) { l.log(LogLevelError, event, fields) }

func (l *Logger) log(level LogLevel, event string, fields map[string]any) {
	if level < l.level {
		return
	}

	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, merged[k])
	}

	l.logger.Printf("%s [%s] %s%s", l.prefix, level.String(), event, b.String())
}
