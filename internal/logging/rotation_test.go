package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		hasError bool
	}{
		{"100", 100, false},
		{"100B", 100, false},
		{"100KB", 100 * 1024, false},
		{"10MB", 10 * 1024 * 1024, false},
		{"1GB", 1024 * 1024 * 1024, false},
		{"10mb", 10 * 1024 * 1024, false},
		{"0", 0, true},
		{"invalid", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := parseSize(tt.input)
			if tt.hasError && err == nil {
				t.Errorf("parseSize(%q) expected error", tt.input)
			}
			if !tt.hasError && err != nil {
				t.Errorf("parseSize(%q) unexpected error: %v", tt.input, err)
			}
			if result != tt.expected {
				t.Errorf("parseSize(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewRotatingWriter_Defaults(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "nested", "app.log")

	w, err := newRotatingWriter(logFile, nil)
	if err != nil {
		t.Fatalf("newRotatingWriter: %v", err)
	}
	defer func() { _ = w.Close() }()

	if w.maxSize != defaultMaxSize || w.maxBackups != defaultMaxBackups {
		t.Errorf("defaults = %d/%d", w.maxSize, w.maxBackups)
	}
	if _, err := os.Stat(logFile); err != nil {
		t.Errorf("log file not created: %v", err)
	}
}

func TestRotatingWriter_RotatesAndKeepsBackups(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")
	w, err := newRotatingWriter(logFile, &RotationConfig{MaxSize: "10B", MaxBackups: 2})
	if err != nil {
		t.Fatalf("newRotatingWriter: %v", err)
	}
	defer func() { _ = w.Close() }()

	for _, line := range []string{"first-row\n", "second-row\n", "third-row\n", "fourth-row\n"} {
		if _, err := w.Write([]byte(line)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	current, _ := os.ReadFile(logFile)
	if strings.TrimSpace(string(current)) != "fourth-row" {
		t.Errorf("current file = %q", current)
	}
	b1, _ := os.ReadFile(logFile + ".1")
	if strings.TrimSpace(string(b1)) != "third-row" {
		t.Errorf("backup .1 = %q", b1)
	}
	b2, _ := os.ReadFile(logFile + ".2")
	if strings.TrimSpace(string(b2)) != "second-row" {
		t.Errorf("backup .2 = %q", b2)
	}
	if _, err := os.Stat(logFile + ".3"); !os.IsNotExist(err) {
		t.Error("only max_backups backups should be kept")
	}
}

func TestRotatingWriter_ReopensAfterClose(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "app.log")
	w, err := newRotatingWriter(logFile, nil)
	if err != nil {
		t.Fatalf("newRotatingWriter: %v", err)
	}
	_ = w.Close()
	if _, err := w.Write([]byte("after close\n")); err != nil {
		t.Fatalf("Write after close: %v", err)
	}
	_ = w.Close()

	content, _ := os.ReadFile(logFile)
	if !strings.Contains(string(content), "after close") {
		t.Errorf("content = %q", content)
	}
}
