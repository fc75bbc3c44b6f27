package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"amplify/internal/model"
)

func recordSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	prev := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	t.Cleanup(func() { sleep = prev })
	return &waits
}

func TestExponentialBackoffRetriesThenSucceeds(t *testing.T) {
	waits := recordSleeps(t)
	calls := 0
	v, err := WithExponentialBackoff(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errBoom
		}
		return 42, nil
	}, 3, 100*time.Millisecond)
	if err != nil || v != 42 {
		t.Fatalf("expected 42, got %d %v", v, err)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(*waits) != len(want) {
		t.Fatalf("waits: %v", *waits)
	}
	for i, w := range want {
		if (*waits)[i] != w {
			t.Fatalf("wait %d: got %v want %v", i, (*waits)[i], w)
		}
	}
}

func TestExponentialBackoffExhaustsAndReturnsLastError(t *testing.T) {
	waits := recordSleeps(t)
	calls := 0
	_, err := WithExponentialBackoff(context.Background(), func(ctx context.Context) (struct{}, error) {
		calls++
		return struct{}{}, errors.New("attempt failed")
	}, 2, time.Second)
	if err == nil || err.Error() != "attempt failed" {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected first call + 2 retries, got %d", calls)
	}
	if len(*waits) != 2 || (*waits)[1] != 2*time.Second {
		t.Fatalf("waits: %v", *waits)
	}
}

func TestBackoffStopsOnPermanentErrors(t *testing.T) {
	recordSleeps(t)
	for _, perm := range []error{
		model.Invalid("text", "too long"),
		&CircuitOpenError{Target: "x", RetryAt: time.Now()},
		Permanent(errBoom),
	} {
		calls := 0
		_, err := WithJitteredBackoff(context.Background(), func(ctx context.Context) (int, error) {
			calls++
			return 0, perm
		}, 5, time.Millisecond)
		if calls != 1 {
			t.Fatalf("%v: expected no retries, got %d calls", perm, calls)
		}
		if err == nil {
			t.Fatalf("expected error")
		}
	}
}

func TestJitteredDelayRange(t *testing.T) {
	prev := jitter
	defer func() { jitter = prev }()
	jitter = func() float64 { return 0 }
	if d := JitteredDelay(time.Second, 2); d != 4*time.Second {
		t.Fatalf("min jitter: %v", d)
	}
	jitter = func() float64 { return 0.999 }
	d := JitteredDelay(time.Second, 2)
	if d < 4*time.Second || d >= 4*time.Second+400*time.Millisecond {
		t.Fatalf("jitter out of range: %v", d)
	}
}

func TestBackoffHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := WithExponentialBackoff(ctx, func(ctx context.Context) (int, error) {
		calls++
		return 0, errBoom
	}, 3, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancel, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d", calls)
	}
}
