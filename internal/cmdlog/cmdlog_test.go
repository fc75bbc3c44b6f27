package cmdlog

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"

	"amplify/internal/logging"
	"amplify/internal/metrics"
)

func TestRunLogsAndCounts(t *testing.T) {
	var buf bytes.Buffer
	logging.Configure(&buf, "info")
	defer logging.Configure(nil, "info")

	before := commandErrors(t, "sync")
	if err := Run("sync", func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	if err := Run("sync", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("error not returned: %v", err)
	}
	if got := commandErrors(t, "sync"); got != before+1 {
		t.Fatalf("command errors = %v, want %v", got, before+1)
	}
	out := buf.String()
	if !strings.Contains(out, `"message":"sync_ok"`) || !strings.Contains(out, `"message":"sync_error"`) || !strings.Contains(out, `"error":"boom"`) || !strings.Contains(out, `"duration_ms"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}

func commandErrors(t *testing.T, cmd string) float64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.CommandErrors.WithLabelValues(cmd).Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}
