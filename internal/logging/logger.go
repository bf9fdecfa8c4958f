// Package logging provides structured logging with file and console output.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogEntry represents a single log entry kept in memory
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
	Data      string `json:"data,omitempty"`
}

// Logger wraps zerolog with file output and log history
type Logger struct {
	zlog    zerolog.Logger
	file    *os.File
	logPath string

	mu      sync.RWMutex
	history []LogEntry
	maxHist int
	onLog   func(LogEntry) // callback for real-time log streaming
}

// Config holds logger configuration
type Config struct {
	LogDir     string // Directory for log files; empty disables file output
	Level      string // Minimum log level (default: info)
	MaxHistory int    // Max entries to keep in memory (default: 1000)
	Console    bool   // Also log to stderr
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		LogDir:     filepath.Join(home, ".cortexcompanion", "logs"),
		Level:      "info",
		MaxHistory: 1000,
		Console:    true,
	}
}

// New creates a new Logger writing JSON to a dated file, optionally
// human-readable lines to stderr, and every entry into an in-memory history.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 1000
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	logger := &Logger{
		history: make([]LogEntry, 0, cfg.MaxHistory),
		maxHist: cfg.MaxHistory,
	}

	writers := []io.Writer{historyWriter{logger}}

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		logFileName := fmt.Sprintf("cortexcompanion_%s.log", time.Now().Format("2006-01-02"))
		logger.logPath = filepath.Join(cfg.LogDir, logFileName)

		file, err := os.OpenFile(logger.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.file = file
		writers = append(writers, file)
	}

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	}

	logger.zlog = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Str("app", "cortexcompanion").
		Logger()

	initLog := logger.Component("logging")
	initLog.Debug().
		Str("logFile", logger.logPath).
		Str("level", level.String()).
		Msg("Logger initialized")

	return logger, nil
}

// SetLevel changes the minimum level for this logger and every component
// logger derived from it afterwards.
func (l *Logger) SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.zlog = l.zlog.Level(lvl)
	l.mu.Unlock()
	return nil
}

// SetOnLog sets a callback for real-time log streaming
func (l *Logger) SetOnLog(fn func(LogEntry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLog = fn
}

// addToHistory adds an entry to the in-memory log history
func (l *Logger) addToHistory(entry LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.history = append(l.history, entry)
	if len(l.history) > l.maxHist {
		l.history = l.history[len(l.history)-l.maxHist:]
	}

	if l.onLog != nil {
		go l.onLog(entry)
	}
}

// History returns up to limit recent log entries, oldest first
func (l *Logger) History(limit int) []LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.history) {
		limit = len(l.history)
	}
	start := len(l.history) - limit

	result := make([]LogEntry, limit)
	copy(result, l.history[start:])
	return result
}

// LogPath returns the current log file path, empty without file output
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file
func (l *Logger) Close() error {
	closeLog := l.Component("logging")
	closeLog.Debug().Msg("Logger shutting down")
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Component returns a zerolog.Logger with the component field set
func (l *Logger) Component(name string) zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zlog.With().Str("component", name).Logger()
}

// Zerolog returns the underlying zerolog.Logger
func (l *Logger) Zerolog() zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zlog
}

// historyWriter decodes each JSON line zerolog emits into a LogEntry.
type historyWriter struct {
	l *Logger
}

var reservedFields = map[string]bool{
	zerolog.TimestampFieldName: true,
	zerolog.LevelFieldName:     true,
	zerolog.MessageFieldName:   true,
	"component":                true,
	"app":                      true,
}

func (w historyWriter) Write(p []byte) (int, error) {
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		return len(p), nil
	}

	entry := LogEntry{
		Timestamp: time.Now().Format("15:04:05.000"),
		Level:     stringField(fields, zerolog.LevelFieldName),
		Component: stringField(fields, "component"),
		Message:   stringField(fields, zerolog.MessageFieldName),
		Data:      formatData(fields),
	}
	w.l.addToHistory(entry)
	return len(p), nil
}

func stringField(fields map[string]any, key string) string {
	if s, ok := fields[key].(string); ok {
		return s
	}
	return ""
}

// formatData renders non-reserved fields as sorted key=value pairs
func formatData(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !reservedFields[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, ", ")
}
