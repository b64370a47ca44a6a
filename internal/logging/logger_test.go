package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readEntries(t *testing.T, dir string) []map[string]any {
	t.Helper()

	content, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}

	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("line is not valid JSON: %v: %s", err, line)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewLogger(t *testing.T) {
	t.Run("creates log file in directory", func(t *testing.T) {
		dir := t.TempDir()

		logger, err := NewLogger(dir, LevelDebug)
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		defer logger.Close()

		if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
			t.Errorf("log file was not created: %v", err)
		}
	})

	t.Run("writes to stderr when dir is empty", func(t *testing.T) {
		logger, err := NewLogger("", LevelInfo)
		if err != nil {
			t.Fatalf("NewLogger failed: %v", err)
		}
		defer logger.Close()

		if logger.writer != nil {
			t.Error("expected no file writer when dir is empty")
		}
	})
}

func TestLogLevelFiltering(t *testing.T) {
	tests := []struct {
		level     string
		wantLines int
	}{
		{LevelDebug, 4},
		{LevelInfo, 3},
		{"warn", 2},
		{LevelError, 1},
		{"bogus", 3},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			dir := t.TempDir()
			logger, err := NewLogger(dir, tt.level)
			if err != nil {
				t.Fatalf("NewLogger failed: %v", err)
			}

			logger.Debug("debug message")
			logger.Info("info message")
			logger.Warn("warn message")
			logger.Error("error message")
			_ = logger.Close()

			if got := len(readEntries(t, dir)); got != tt.wantLines {
				t.Errorf("got %d lines, want %d", got, tt.wantLines)
			}
		})
	}
}

func TestContextPropagation(t *testing.T) {
	dir := t.TempDir()

	logger, err := NewLogger(dir, LevelInfo)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	logger.WithProject("/repo").
		WithInstance("repo-main-0312-1405-a1b2").
		WithSession("").
		With("tool", "Edit").
		Info("lock acquired", "path", "src/x.ts")
	_ = logger.Close()

	entries := readEntries(t, dir)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	entry := entries[0]

	want := map[string]string{
		"project":     "/repo",
		"instance_id": "repo-main-0312-1405-a1b2",
		"tool":        "Edit",
		"path":        "src/x.ts",
		"msg":         "lock acquired",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %q", k, entry[k], v)
		}
	}
	if _, ok := entry["session_id"]; ok {
		t.Error("empty session id should not be recorded")
	}
}

func TestMirror(t *testing.T) {
	dir := t.TempDir()
	var mirror bytes.Buffer

	logger, err := New(Options{Dir: dir, Level: LevelInfo, Mirror: &mirror})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.WithInstance("inst-a").Warn("lock denied", "holder", "inst-b")
	logger.Debug("filtered out")
	_ = logger.Close()

	out := mirror.String()
	if !strings.Contains(out, "lock denied") || !strings.Contains(out, "holder=inst-b") {
		t.Errorf("mirror output = %q", out)
	}
	if strings.Contains(out, "filtered out") {
		t.Error("mirror should honor the level")
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("mirror to a buffer should not be colorized")
	}
	if len(readEntries(t, dir)) != 1 {
		t.Error("file handler should still receive the record")
	}
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.Info("discarded")
	if err := logger.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}

	var nilLogger *Logger
	nilLogger.Info("nil loggers are safe")
	if err := nilLogger.Close(); err != nil {
		t.Errorf("nil Close() = %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug": LevelDebug,
		"INFO":  LevelInfo,
		"Warn":  LevelWarn,
		"error": LevelError,
		"":      LevelInfo,
		"trace": LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %q, want %q", in, got, want)
		}
	}
	if len(ValidLevels()) != 4 {
		t.Errorf("ValidLevels() = %v", ValidLevels())
	}
}
