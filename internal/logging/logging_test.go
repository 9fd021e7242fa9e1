package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStartConsole(t *testing.T) {
	var buf bytes.Buffer
	l, err := Start(Options{Level: "info", Format: "console", Console: &buf})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	l.Debug("hidden")
	l.Info("Configuring server for mock")
	log.Print("from stdlib")
	if err := l.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Expected debug entry to be filtered at info level")
	}
	if !strings.Contains(out, "Configuring server for mock") {
		t.Errorf("Expected info entry in output, got %q", out)
	}
	if !strings.Contains(out, "from stdlib") {
		t.Errorf("Expected stdlib log to be redirected, got %q", out)
	}
}

func TestStartWithFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "server.log")

	l, err := Start(Options{Level: "debug", Format: "json", File: path, MaxSizeMB: 1, Console: &buf})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	l.Info("Starting cmdserver")
	if err := l.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected log file: %v", err)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("Expected JSON log line, got %q: %v", data, err)
	}
	if entry["msg"] != "Starting cmdserver" {
		t.Errorf("Unexpected entry %v", entry)
	}

	// Console received JSON as well
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("Expected JSON console output, got %q", buf.String())
	}
}

func TestStartInvalidLevel(t *testing.T) {
	if _, err := Start(Options{Level: "chatty"}); err == nil {
		t.Error("Expected error for invalid level")
	}
}
