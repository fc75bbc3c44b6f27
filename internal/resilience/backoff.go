package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"amplify/internal/model"
)

// maxShift keeps initialDelay<<i from overflowing.
const maxShift = 30

// jitterFraction bounds the random extra wait added to each jittered delay.
const jitterFraction = 0.1

// Hooks replaced by tests.
var (
	sleep  = sleepCtx
	jitter = rand.Float64
)

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err so that the backoff wrappers return it without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether retrying err is pointless: permanent-marked
// errors, validation errors and open circuits.
func IsPermanent(err error) bool {
	var p *permanentError
	if errors.As(err, &p) {
		return true
	}
	if model.IsValidation(err) {
		return true
	}
	return IsCircuitOpen(err)
}

// ExponentialDelay is the wait before retry i (0-based): initial * 2^i.
func ExponentialDelay(initial time.Duration, i int) time.Duration {
	if i < 0 {
		i = 0
	}
	if i > maxShift {
		i = maxShift
	}
	return initial * time.Duration(int64(1)<<uint(i))
}

// JitteredDelay is ExponentialDelay plus uniform(0, 10%) of it.
func JitteredDelay(initial time.Duration, i int) time.Duration {
	d := ExponentialDelay(initial, i)
	return d + time.Duration(jitter()*jitterFraction*float64(d))
}

// WithExponentialBackoff calls op, retrying up to maxRetries times with
// initialDelay*2^i between tries. The last error is returned once retries are
// exhausted.
func WithExponentialBackoff[T any](ctx context.Context, op func(context.Context) (T, error), maxRetries int, initialDelay time.Duration) (T, error) {
	return retry(ctx, op, maxRetries, func(i int) time.Duration { return ExponentialDelay(initialDelay, i) })
}

// WithJitteredBackoff is WithExponentialBackoff with up to 10% random extra
// wait so concurrent jobs do not retry in lockstep.
func WithJitteredBackoff[T any](ctx context.Context, op func(context.Context) (T, error), maxRetries int, initialDelay time.Duration) (T, error) {
	return retry(ctx, op, maxRetries, func(i int) time.Duration { return JitteredDelay(initialDelay, i) })
}

func retry[T any](ctx context.Context, op func(context.Context) (T, error), maxRetries int, delay func(int) time.Duration) (T, error) {
	var zero T
	if maxRetries < 0 {
		maxRetries = 0
	}
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			if err := sleep(ctx, delay(i-1)); err != nil {
				return zero, err
			}
		}
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if IsPermanent(err) {
			break
		}
	}
	return zero, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
