package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestZerologAdapterFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, zerolog.DebugLevel)
	l.Info("opened", String("format", "raw"), Int("partitions", 4), Bool("mmap", true), Err(errors.New("boom")))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log entry is not JSON: %v: %s", err, buf.String())
	}
	if entry["message"] != "opened" {
		t.Errorf("message = %v, want opened", entry["message"])
	}
	if entry["format"] != "raw" {
		t.Errorf("format = %v, want raw", entry["format"])
	}
	if entry["partitions"] != float64(4) {
		t.Errorf("partitions = %v, want 4", entry["partitions"])
	}
	if entry["error"] != "boom" {
		t.Errorf("error = %v, want boom", entry["error"])
	}
}

func TestZerologAdapterLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, zerolog.WarnLevel)
	l.Debug("hidden")
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn level, got %q", buf.String())
	}
	l.Warn("shown")
	if buf.Len() == 0 {
		t.Fatal("expected warn entry")
	}
}
