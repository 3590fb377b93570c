// Package logger provides the structured logger used by the codebridge
// binaries. It renders through log/slog handlers and can hand an equivalent
// *slog.Logger to library packages.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/localrivet/codebridge/internal/errortypes"
)

// LogLevel represents the severity of a log message
type LogLevel int

// Log level constants
const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
	DISABLED
)

// LogFormat defines how log messages are formatted
type LogFormat int

// Log format constants
const (
	TEXT LogFormat = iota
	JSON
)

const (
	slogFatal    = slog.LevelError + 4
	slogDisabled = slog.LevelError + 8
)

var levelNames = map[LogLevel]string{
	DEBUG:    "DEBUG",
	INFO:     "INFO",
	WARN:     "WARN",
	ERROR:    "ERROR",
	FATAL:    "FATAL",
	DISABLED: "DISABLED",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case INFO:
		return slog.LevelInfo
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	case FATAL:
		return slogFatal
	default:
		return slogDisabled
	}
}

// sink is shared by a logger and everything derived from it, so SetLevel
// and SetFormat apply to the whole family.
type sink struct {
	mu     sync.Mutex
	level  slog.LevelVar
	format LogFormat
	out    io.Writer
}

func (s *sink) handler() slog.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts := &slog.HandlerOptions{
		AddSource:   true,
		Level:       &s.level,
		ReplaceAttr: replaceAttr,
	}
	if s.format == JSON {
		return slog.NewJSONHandler(s.out, opts)
	}
	return slog.NewTextHandler(s.out, opts)
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		return slog.String(slog.TimeKey, a.Value.Time().UTC().Format(time.RFC3339))
	case slog.LevelKey:
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= slogFatal {
			return slog.String(slog.LevelKey, FATAL.String())
		}
	case slog.SourceKey:
		if src, ok := a.Value.Any().(*slog.Source); ok {
			return slog.String("caller", fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
	}
	return a
}

// Logger represents a structured logger
type Logger struct {
	sink        *sink
	fields      map[string]interface{}
	contextPath []string
}

// Config holds configuration options for the logger
type Config struct {
	Level       LogLevel
	Format      LogFormat
	Output      io.Writer
	DefaultTags map[string]interface{}
}

// DefaultConfig returns a default logger configuration
func DefaultConfig() *Config {
	return &Config{
		Level:       INFO,
		Format:      TEXT,
		Output:      os.Stderr,
		DefaultTags: map[string]interface{}{"service": "codebridge"},
	}
}

// New creates a new logger with the given configuration
func New(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	s := &sink{format: config.Format, out: out}
	s.level.Set(config.Level.slogLevel())

	fields := make(map[string]interface{}, len(config.DefaultTags))
	for k, v := range config.DefaultTags {
		fields[k] = v
	}

	return &Logger{sink: s, fields: fields}
}

// SetLevel sets the logger's minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	l.sink.level.Set(level.slogLevel())
}

// SetFormat sets the logger's output format
func (l *Logger) SetFormat(format LogFormat) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.format = format
}

func (l *Logger) derive(fields map[string]interface{}, contextPath []string) *Logger {
	return &Logger{sink: l.sink, fields: fields, contextPath: contextPath}
}

// WithField returns a new logger with the field added to its context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a new logger with multiple fields added to its context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return l.derive(merged, append([]string{}, l.contextPath...))
}

// WithContext returns a new logger with a context path
func (l *Logger) WithContext(contexts ...string) *Logger {
	path := append(append([]string{}, l.contextPath...), contexts...)
	return l.derive(l.fields, path)
}

// attrs returns the context path and fields in a stable order.
func (l *Logger) attrs() []slog.Attr {
	out := make([]slog.Attr, 0, len(l.fields)+1)
	if len(l.contextPath) > 0 {
		out = append(out, slog.String("context", strings.Join(l.contextPath, ".")))
	}
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, slog.Any(k, l.fields[k]))
	}
	return out
}

// Slog returns a *slog.Logger writing to the same output with the same
// level, fields and context path.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(l.sink.handler().WithAttrs(l.attrs()))
}

// Debug logs a message at DEBUG level
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(3, DEBUG, msg, args...)
}

// Info logs a message at INFO level
func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(3, INFO, msg, args...)
}

// Warn logs a message at WARN level
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(3, WARN, msg, args...)
}

// Error logs a message at ERROR level
func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(3, ERROR, msg, args...)
}

// Fatal logs a message at FATAL level and then exits with status code 1
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.log(3, FATAL, msg, args...)
	os.Exit(1)
}

// DebugContext logs a message at DEBUG level with context
func (l *Logger) DebugContext(ctx string, msg string, args ...interface{}) {
	l.WithContext(ctx).log(3, DEBUG, msg, args...)
}

// InfoContext logs a message at INFO level with context
func (l *Logger) InfoContext(ctx string, msg string, args ...interface{}) {
	l.WithContext(ctx).log(3, INFO, msg, args...)
}

// WarnContext logs a message at WARN level with context
func (l *Logger) WarnContext(ctx string, msg string, args ...interface{}) {
	l.WithContext(ctx).log(3, WARN, msg, args...)
}

// ErrorContext logs a message at ERROR level with context
func (l *Logger) ErrorContext(ctx string, msg string, args ...interface{}) {
	l.WithContext(ctx).log(3, ERROR, msg, args...)
}

// FatalContext logs a message at FATAL level with context and then exits
func (l *Logger) FatalContext(ctx string, msg string, args ...interface{}) {
	l.WithContext(ctx).log(3, FATAL, msg, args...)
	os.Exit(1)
}

// LogError logs err with its errortypes type, stack and fields.
func (l *Logger) LogError(err error) {
	errortypes.LogError(l.Slog(), err)
}

// log formats msg and hands it to the handler. skip is the number of
// frames between runtime.Callers and the user's call site.
func (l *Logger) log(skip int, level LogLevel, msg string, args ...interface{}) {
	lvl := level.slogLevel()
	h := l.sink.handler()
	if !h.Enabled(context.Background(), lvl) {
		return
	}

	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}

	var pcs [1]uintptr
	runtime.Callers(skip, pcs[:])
	r := slog.NewRecord(time.Now(), lvl, msg, pcs[0])
	r.AddAttrs(l.attrs()...)

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	_ = h.Handle(context.Background(), r)
}

// ParseLevel converts a string level to a LogLevel
func ParseLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	case "DISABLED", "OFF":
		return DISABLED
	default:
		return INFO
	}
}

// ParseFormat converts "json" to JSON; anything else is TEXT.
func ParseFormat(format string) LogFormat {
	if strings.EqualFold(format, "json") {
		return JSON
	}
	return TEXT
}

// Global default logger
var defaultLogger = New(DefaultConfig())

// SetDefaultLogger sets the global default logger
func SetDefaultLogger(logger *Logger) {
	defaultLogger = logger
}

// GetDefaultLogger returns the global default logger
func GetDefaultLogger() *Logger {
	return defaultLogger
}

// GetLogger returns a logger with the given name as a field
func GetLogger(name string) *Logger {
	return defaultLogger.WithField("name", name)
}

// Debug logs to the default logger at DEBUG level
func Debug(msg string, args ...interface{}) {
	defaultLogger.log(3, DEBUG, msg, args...)
}

// Info logs to the default logger at INFO level
func Info(msg string, args ...interface{}) {
	defaultLogger.log(3, INFO, msg, args...)
}

// Warn logs to the default logger at WARN level
func Warn(msg string, args ...interface{}) {
	defaultLogger.log(3, WARN, msg, args...)
}

// Error logs to the default logger at ERROR level
func Error(msg string, args ...interface{}) {
	defaultLogger.log(3, ERROR, msg, args...)
}

// Fatal logs to the default logger at FATAL level and then exits
func Fatal(msg string, args ...interface{}) {
	defaultLogger.log(3, FATAL, msg, args...)
	os.Exit(1)
}
