package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupWritesFileAndEcho(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	var echo bytes.Buffer

	logger, closer, err := Setup("warn", dir, &echo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept", "collection", "patients")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "docpilot-"+time.Now().Format("2006-01-02")+".log"))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "collection=patients") {
		t.Errorf("log file missing record: %q", data)
	}
	if strings.Contains(string(data), "dropped") {
		t.Errorf("info record should be filtered at warn level: %q", data)
	}
	if echo.String() != string(data) {
		t.Errorf("echo and file differ:\n%q\n%q", echo.String(), data)
	}
}

func TestSetupNoEcho(t *testing.T) {
	logger, closer, err := Setup("debug", t.TempDir(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closer.Close()
	logger.Debug("ok")
}
