package auditlog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func newTestLogger(buf *bytes.Buffer) *Logger {
	return &Logger{zl: zerolog.New(buf)}
}

func TestAlertWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	l.Alert("DEFECT", "scratch", 0.93, "WARNING", "obj-1", "UPLOADING")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal audit line: %v (raw: %s)", err, buf.String())
	}

	if record["event"] != "alert" {
		t.Errorf("event = %v", record["event"])
	}
	if record["status"] != "DEFECT" {
		t.Errorf("status = %v", record["status"])
	}
	if record["clip_object"] != "obj-1" {
		t.Errorf("clip_object = %v", record["clip_object"])
	}
}

func TestProductionWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf)

	l.Production(1)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal audit line: %v", err)
	}
	if record["event"] != "production" {
		t.Errorf("event = %v", record["event"])
	}
	if record["count"].(float64) != 1 {
		t.Errorf("count = %v", record["count"])
	}
}
