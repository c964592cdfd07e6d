package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFileWriterPathOverridesDir(t *testing.T) {
	dir := t.TempDir()
	explicit := filepath.Join(dir, "explicit.log")
	c := FileConfig{Dir: dir, Path: explicit}
	w := c.Writer("daemon")
	if w == nil {
		t.Fatal("expected writer")
	}
	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()
	b, err := os.ReadFile(explicit)
	if err != nil || !strings.Contains(string(b), "hello") {
		t.Fatalf("explicit path not written: %v content=%q", err, string(b))
	}
}

func TestFileWriterDirDefaultName(t *testing.T) {
	dir := t.TempDir()
	c := FileConfig{Dir: dir}
	w := c.Writer("daemon")
	if w == nil {
		t.Fatal("expected writer")
	}
	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()
	if _, err := os.Stat(filepath.Join(dir, "daemon.log")); err != nil {
		t.Fatalf("default log file missing: %v", err)
	}
}

func TestFileWriterNilWhenUnconfigured(t *testing.T) {
	if w := (FileConfig{}).Writer("daemon"); w != nil {
		t.Fatal("expected nil writer without dir/path")
	}
}

func TestNewLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()
	c := Config{Level: "debug", File: FileConfig{Dir: dir}}
	lg := c.New("sdk")
	lg.Debug("visible at debug", "k", "v")
	b, err := os.ReadFile(filepath.Join(dir, "sdk.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), "visible at debug") {
		t.Fatalf("log line missing: %q", string(b))
	}
}
