// Package logger provides the leveled logger shared by dcos-node components.
// Diagnostics go to stderr by default so that stdout carries only command output.
package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// LogLevel represents the log level
type LogLevel int

const (
	// DEBUG level for detailed debugging information
	DEBUG LogLevel = iota
	// INFO level for general informational messages
	INFO
	// WARN level for warning messages
	WARN
	// ERROR level for error messages
	ERROR
)

// String returns the string representation of the log level
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

// ParseLogLevel parses a string to LogLevel. Unknown values map to WARN.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR", "CRITICAL":
		return ERROR
	default:
		return WARN
	}
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
	colorGray   = "\033[90m"
)

// Logger is a simple leveled logger. It is safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	level    LogLevel
	output   io.Writer
	noColor  bool
	showTime bool
	now      func() time.Time
}

// Config holds logger configuration
type Config struct {
	Level    string
	Output   string // "stdout", "stderr", or file path
	NoColor  bool
	ShowTime bool
}

// New creates a new logger with the given configuration
func New(cfg *Config) *Logger {
	level := WARN
	if cfg != nil && cfg.Level != "" {
		level = ParseLogLevel(cfg.Level)
	}

	output := io.Writer(os.Stderr)
	noColor := false
	showTime := false

	if cfg != nil {
		showTime = cfg.ShowTime
		noColor = cfg.NoColor

		if cfg.Output == "stdout" {
			output = os.Stdout
		} else if cfg.Output != "" && cfg.Output != "stderr" {
			f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err == nil {
				output = f
				noColor = true
			}
		}
	}

	if !noColor {
		if f, ok := output.(*os.File); ok {
			noColor = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
		}
	}

	return &Logger{
		level:    level,
		output:   output,
		noColor:  noColor,
		showTime: showTime,
		now:      time.Now,
	}
}

// NewWriter creates an uncolored logger writing to w.
func NewWriter(w io.Writer, level LogLevel) *Logger {
	return &Logger{
		level:   level,
		output:  w,
		noColor: true,
		now:     time.Now,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWriter(io.Discard, ERROR+1)
}

// Level returns the current log level
func (l *Logger) Level() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	msg := fmt.Sprintf(format, args...)

	var levelStr, color string
	switch level {
	case DEBUG:
		levelStr = "DEBUG"
		color = colorGray
	case INFO:
		levelStr = "INFO "
		color = colorGreen
	case WARN:
		levelStr = "WARN "
		color = colorYellow
	case ERROR:
		levelStr = "ERROR"
		color = colorRed
	}

	prefix := ""
	if l.showTime {
		prefix = l.now().Format("2006-01-02 15:04:05") + " "
	}

	if l.noColor {
		fmt.Fprintf(l.output, "%s[%s] %s\n", prefix, levelStr, msg)
	} else {
		fmt.Fprintf(l.output, "%s[%s%s%s] %s\n", prefix, color, levelStr, colorReset, msg)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// WithField returns a log entry with fields
func (l *Logger) WithField(key string, value interface{}) *Entry {
	return &Entry{
		logger: l,
		fields: map[string]interface{}{key: value},
	}
}

// WithFields returns a log entry with multiple fields
func (l *Logger) WithFields(fields map[string]interface{}) *Entry {
	return &Entry{
		logger: l,
		fields: fields,
	}
}

// Entry represents a log entry with fields
type Entry struct {
	logger *Logger
	fields map[string]interface{}
}

// WithField returns a copy of the entry with one more field.
func (e *Entry) WithField(key string, value interface{}) *Entry {
	fields := make(map[string]interface{}, len(e.fields)+1)
	for k, v := range e.fields {
		fields[k] = v
	}
	fields[key] = value
	return &Entry{logger: e.logger, fields: fields}
}

// Debug logs a debug message with fields
func (e *Entry) Debug(format string, args ...interface{}) {
	e.log(DEBUG, format, args...)
}

// Info logs an info message with fields
func (e *Entry) Info(format string, args ...interface{}) {
	e.log(INFO, format, args...)
}

// Warn logs a warning message with fields
func (e *Entry) Warn(format string, args ...interface{}) {
	e.log(WARN, format, args...)
}

// Error logs an error message with fields
func (e *Entry) Error(format string, args ...interface{}) {
	e.log(ERROR, format, args...)
}

func (e *Entry) log(level LogLevel, format string, args ...interface{}) {
	if len(e.fields) == 0 {
		e.logger.log(level, format, args...)
		return
	}

	// Sorted so the same fields always render the same way
	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.fields[k]))
	}
	prefix := strings.Join(parts, " ")

	msg := fmt.Sprintf(format, args...)
	e.logger.log(level, "%s %s", prefix, msg)
}
