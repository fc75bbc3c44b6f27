package cmdlog

import (
	"time"

	"amplify/internal/logging"
	"amplify/internal/metrics"
)

// Run executes f as the CLI command cmd. The run is counted, and the outcome
// is logged as <cmd>_ok or <cmd>_error with its duration.
func Run(cmd string, f func() error) error {
	metrics.IncCommandRun(cmd)
	start := time.Now()
	err := f()
	fields := map[string]any{"command": cmd, "duration_ms": time.Since(start).Milliseconds()}
	if err != nil {
		metrics.IncCommandError(cmd)
		fields["error"] = err.Error()
		logging.Error(cmd+"_error", fields)
		return err
	}
	logging.Info(cmd+"_ok", fields)
	return nil
}
