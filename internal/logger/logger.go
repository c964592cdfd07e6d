package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for captured daemon output.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes SDK logging.
// Level is one of debug, info, warn, error (default info).
// If File.Dir or File.Path is set, SDK logs go to a rotating file instead of stderr.
type Config struct {
	Level string     `mapstructure:"level"`
	Color bool       `mapstructure:"color"`
	File  FileConfig `mapstructure:"file"`
}

// FileConfig describes a rotating log destination.
// Path overrides Dir; with Dir only, the file is Dir/<name>.log.
// Rotation parameters follow lumberjack semantics.
type FileConfig struct {
	Dir        string `mapstructure:"dir"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// New builds a *slog.Logger from the config. name is used as the file stem
// when only File.Dir is configured.
func (c Config) New(name string) *slog.Logger {
	var w io.Writer = os.Stderr
	if fw := c.File.Writer(name); fw != nil {
		w = fw
	}
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}
	if c.Color {
		return slog.New(newColorTextHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Writer returns a rotating WriteCloser for the configured destination,
// or nil when no destination is configured. It is also used to persist
// captured stdout/stderr of the collector daemon subprocess.
func (c FileConfig) Writer(name string) io.WriteCloser {
	path := c.Path
	if path == "" && c.Dir != "" {
		path = filepath.Join(c.Dir, fmt.Sprintf("%s.log", name))
	}
	if path == "" {
		return nil
	}
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
