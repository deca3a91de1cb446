// Package logger builds the process-wide zerolog.Logger and the
// category-gated debug helpers layered on top of it, matching the
// zerolog.Logger every other package in this module takes as a
// constructor argument.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// LogLevel represents the logging verbosity level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// DebugCategory gates a verbose logging concern that's too noisy to run at
// plain debug level all the time.
type DebugCategory string

const (
	DebugInterleave DebugCategory = "interleave"
	DebugCapture    DebugCategory = "capture"
	DebugReconnect  DebugCategory = "reconnect"
	DebugCaption    DebugCategory = "caption"
	DebugAll        DebugCategory = "all"
)

// Config holds logger configuration.
type Config struct {
	Level             LogLevel
	Format            OutputFormat
	OutputFile        string
	EnabledCategories map[DebugCategory]bool
	mu                sync.RWMutex
}

// OutputFormat determines the log output format.
type OutputFormat string

const (
	FormatJSON    OutputFormat = "json"
	FormatConsole OutputFormat = "console"
)

// NewConfig creates a new logger configuration with defaults.
func NewConfig() *Config {
	return &Config{
		Level:             LevelInfo,
		Format:            FormatConsole,
		EnabledCategories: make(map[DebugCategory]bool),
	}
}

// ParseLevel converts a string to LogLevel.
func ParseLevel(level string) (LogLevel, error) {
	switch level {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO":
		return LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// ParseFormat converts a string to OutputFormat.
func ParseFormat(format string) (OutputFormat, error) {
	switch format {
	case "json", "JSON":
		return FormatJSON, nil
	case "console", "CONSOLE", "text", "TEXT":
		return FormatConsole, nil
	default:
		return "", fmt.Errorf("invalid log format: %s (must be json or console)", format)
	}
}

// ToZerologLevel converts LogLevel to zerolog.Level.
func (l LogLevel) ToZerologLevel() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New builds a zerolog.Logger from cfg. The returned closer should be
// deferred by the caller; it is a no-op unless an OutputFile was opened.
func New(cfg *Config) (zerolog.Logger, io.Closer, error) {
	var writer io.Writer = os.Stdout
	var file *os.File

	if cfg.OutputFile != "" {
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("open log file %s: %w", cfg.OutputFile, err)
		}
		writer = f
		file = f
	}

	if cfg.Format == FormatConsole {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"}
	}

	l := zerolog.New(writer).Level(cfg.Level.ToZerologLevel()).With().Timestamp().Logger()
	return l, nopOrFile(file), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func nopOrFile(f *os.File) io.Closer {
	if f == nil {
		return nopCloser{}
	}
	return f
}

// EnableCategory enables a specific debug category.
func (c *Config) EnableCategory(category DebugCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if category == DebugAll {
		c.EnabledCategories[DebugInterleave] = true
		c.EnabledCategories[DebugCapture] = true
		c.EnabledCategories[DebugReconnect] = true
		c.EnabledCategories[DebugCaption] = true
	} else {
		c.EnabledCategories[category] = true
	}
}

// IsCategoryEnabled checks if a debug category is enabled.
func (c *Config) IsCategoryEnabled(category DebugCategory) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.EnabledCategories[category]
}

// IsDebugEnabled checks if any debug category is enabled.
func (c *Config) IsDebugEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.EnabledCategories) > 0
}
