package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func TestLogWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "info")
	defer Configure(os.Stdout, "info")

	Info("job_completed", map[string]any{"job_id": "j1", "attempts": 2})
	Debug("hidden", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (debug filtered), got %d: %q", len(lines), buf.String())
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if got["message"] != "job_completed" || got["level"] != "info" || got["job_id"] != "j1" {
		t.Fatalf("unexpected entry: %v", got)
	}
	if _, ok := got["time"]; !ok {
		t.Fatalf("missing time field: %v", got)
	}
}
