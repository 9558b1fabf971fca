package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoggerRenamesCoreKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "marketd", "test", slog.LevelInfo)
	logger.Info("escrow released", "op", "release")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	for _, key := range []string{"timestamp", "severity", "message", "service", "env", "op"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing %q in %v", key, line)
		}
	}
	if line["severity"] != "INFO" || line["message"] != "escrow released" {
		t.Fatalf("unexpected line %v", line)
	}
}

func TestLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "marketd", "", ParseLevel("warn"))
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line should be filtered, got %s", buf.String())
	}
	logger.Warn("kept")
	if buf.Len() == 0 {
		t.Fatalf("warn line missing")
	}
}

func TestSetupWithFileWritesRotatedLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marketd.log")
	logger := SetupWithOptions("marketd", "test", Options{File: path, MaxSizeMB: 1})
	logger.Info("hello")
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !bytes.Contains(raw, []byte(`"message":"hello"`)) {
		t.Fatalf("log file missing entry: %s", raw)
	}
}

func TestMaskField(t *testing.T) {
	if attr := MaskField("feedback", "great work"); attr.Value.String() != RedactedValue {
		t.Fatalf("feedback should be masked, got %s", attr.Value.String())
	}
	if attr := MaskField("reason", "timeout"); attr.Value.String() != "timeout" {
		t.Fatalf("reason is allowlisted, got %s", attr.Value.String())
	}
	if attr := MaskField("proof", " "); attr.Value.String() != " " {
		t.Fatalf("blank values pass through")
	}
	for _, key := range []string{"module", "op", "escrow", "job", " Caller "} {
		if !IsAllowlisted(key) {
			t.Fatalf("%q should be allowlisted", key)
		}
	}
	if IsAllowlisted("proof") || IsAllowlisted("feedback") {
		t.Fatalf("free-text keys must not be allowlisted")
	}
}
