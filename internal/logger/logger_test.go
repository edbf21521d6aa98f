package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/SJJC-Team/whooshing-vapor/internal/config"
)

func decodeLine(t *testing.T, line string) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q: %v", line, err)
	}
	return entry
}

func TestErrorLogFieldsAndLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewTestLogger(&buf)

	l.Error("transform failed", LogFields{"conn_id": 7, "reason": "boom"})

	entry := decodeLine(t, strings.TrimSpace(buf.String()))
	if entry["level"] != "error" {
		t.Errorf("level = %v, want error", entry["level"])
	}
	if entry["message"] != "transform failed" {
		t.Errorf("message = %v", entry["message"])
	}
	if entry["conn_id"] != float64(7) {
		t.Errorf("conn_id = %v", entry["conn_id"])
	}
	if entry["reason"] != "boom" {
		t.Errorf("reason = %v", entry["reason"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("entry missing timestamp")
	}
}

func TestNilFieldsAccepted(t *testing.T) {
	var buf bytes.Buffer
	l := NewTestLogger(&buf)
	l.Info("plain message", nil)
	entry := decodeLine(t, strings.TrimSpace(buf.String()))
	if entry["message"] != "plain message" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestLevelThreshold(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "error.log")
	cfg := &config.LoggingConfig{
		LogLevel: config.LogLevelWarning,
		ErrorLog: &config.ErrorLogConfig{Target: target},
	}
	l, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer l.CloseLogFiles()

	l.Debug("below threshold", nil)
	l.Info("also below", nil)
	l.Warn("at threshold", nil)

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly 1 entry, got %d: %q", len(lines), data)
	}
	entry := decodeLine(t, lines[0])
	if entry["message"] != "at threshold" {
		t.Errorf("message = %v", entry["message"])
	}
}

func TestAccessLogToFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "access.log")
	enabled := true
	cfg := &config.LoggingConfig{
		LogLevel:  config.LogLevelInfo,
		ErrorLog:  &config.ErrorLogConfig{Target: "stderr"},
		AccessLog: &config.AccessLogConfig{Enabled: &enabled, Target: target},
	}
	l, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer l.CloseLogFiles()

	l.Access("10.0.0.1:5555", "GET", "/admin/connections", 200, 42, 3*time.Millisecond, "req-1")

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("reading access log: %v", err)
	}
	entry := decodeLine(t, strings.TrimSpace(string(data)))
	if entry["method"] != "GET" || entry["status"] != float64(200) {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["request_id"] != "req-1" {
		t.Errorf("request_id = %v", entry["request_id"])
	}
}

func TestAccessDisabled(t *testing.T) {
	disabled := false
	cfg := &config.LoggingConfig{
		LogLevel:  config.LogLevelInfo,
		ErrorLog:  &config.ErrorLogConfig{Target: "stderr"},
		AccessLog: &config.AccessLogConfig{Enabled: &disabled, Target: "stdout"},
	}
	l, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	// Must not panic with a nil access sink.
	l.Access("addr", "GET", "/", 200, 0, 0, "")
}

func TestNewLoggerNilConfig(t *testing.T) {
	if _, err := NewLogger(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}
