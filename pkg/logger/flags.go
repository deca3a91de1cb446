package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags.
type Flags struct {
	LogLevel  string
	LogFormat string
	LogFile   string

	DebugInterleave bool
	DebugCapture    bool
	DebugReconnect  bool
	DebugCaption    bool
	DebugAll        bool
}

// RegisterFlags registers logging flags with the given FlagSet.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info",
		"Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "console",
		"Log output format: console, json")

	fs.StringVar(&f.LogFile, "log-file", "",
		"Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "",
		"Log output file path (shorthand)")

	fs.BoolVar(&f.DebugInterleave, "debug-interleave", false,
		"Enable the interleave debug category and debug log level")
	fs.BoolVar(&f.DebugCapture, "debug-capture", false,
		"Enable the capture debug category and debug log level")
	fs.BoolVar(&f.DebugReconnect, "debug-reconnect", false,
		"Enable the reconnect debug category and debug log level")
	fs.BoolVar(&f.DebugCaption, "debug-caption", false,
		"Enable the caption debug category and debug log level")
	fs.BoolVar(&f.DebugAll, "debug-all", false,
		"Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config.
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	cfg.OutputFile = f.LogFile

	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		cfg.Level = LevelDebug
	} else {
		if f.DebugInterleave {
			cfg.EnableCategory(DebugInterleave)
			cfg.Level = LevelDebug
		}
		if f.DebugCapture {
			cfg.EnableCategory(DebugCapture)
			cfg.Level = LevelDebug
		}
		if f.DebugReconnect {
			cfg.EnableCategory(DebugReconnect)
			cfg.Level = LevelDebug
		}
		if f.DebugCaption {
			cfg.EnableCategory(DebugCaption)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// String returns a string representation of enabled flags, for a one-line
// startup log entry.
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var categories []string
	if f.DebugAll {
		categories = append(categories, "all")
	} else {
		if f.DebugInterleave {
			categories = append(categories, "interleave")
		}
		if f.DebugCapture {
			categories = append(categories, "capture")
		}
		if f.DebugReconnect {
			categories = append(categories, "reconnect")
		}
		if f.DebugCaption {
			categories = append(categories, "caption")
		}
	}
	if len(categories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(categories, ",")))
	}

	return strings.Join(parts, " ")
}
