package resilience

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"amplify/internal/logging"
	"amplify/internal/metrics"
	"amplify/internal/model"
)

// Defaults for a circuit when no per-target override is configured.
const (
	DefaultFailureThreshold = 5
	DefaultOpenTimeout      = 60 * time.Second
)

// State is a circuit state.
type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half-open"
	StateOpen     State = "open"
)

// CircuitOpenError is returned without invoking the operation while a
// target's circuit is open. It does not count against retry budgets.
type CircuitOpenError struct {
	Target  string
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s until %s", e.Target, e.RetryAt.UTC().Format(time.RFC3339))
}

// IsCircuitOpen reports whether err wraps a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var c *CircuitOpenError
	return errors.As(err, &c)
}

// BreakerConfig sets when a circuit trips and how long it stays open.
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failureThreshold"`
	OpenTimeout      time.Duration `yaml:"openTimeout"`
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = DefaultOpenTimeout
	}
	return c
}

// CircuitState is a point-in-time view of one target's circuit.
type CircuitState struct {
	Target              string        `json:"target"`
	State               State         `json:"state"`
	ConsecutiveFailures uint32        `json:"consecutive_failures"`
	LastFailure         *time.Time    `json:"last_failure,omitempty"`
	FailureThreshold    uint32        `json:"failure_threshold"`
	OpenTimeout         time.Duration `json:"open_timeout"`
}

type circuit struct {
	cb  *gobreaker.CircuitBreaker
	cfg BreakerConfig

	mu          sync.Mutex
	failures    uint32
	lastFailure time.Time
	openedAt    time.Time
}

// Breakers is a registry of circuits keyed by target name (for example
// "platform:twitter" or "ads:google"). Circuits are created lazily and live
// for the registry's lifetime.
type Breakers struct {
	mu        sync.Mutex
	defaults  BreakerConfig
	overrides map[string]BreakerConfig
	circuits  map[string]*circuit
}

// NewBreakers returns an empty registry using cfg for every target.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{
		defaults:  cfg.withDefaults(),
		overrides: make(map[string]BreakerConfig),
		circuits:  make(map[string]*circuit),
	}
}

// Configure overrides the settings of target. It only affects circuits that
// have not been used yet.
func (b *Breakers) Configure(target string, cfg BreakerConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.overrides[target] = cfg.withDefaults()
}

func (b *Breakers) get(target string) *circuit {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[target]; ok {
		return c
	}
	cfg := b.defaults
	if o, ok := b.overrides[target]; ok {
		cfg = o
	}
	c := &circuit{cfg: cfg}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        target,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: answered,
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				c.mu.Lock()
				c.openedAt = time.Now()
				c.mu.Unlock()
			}
			metrics.SetBreakerState(name, stateGauge(to))
			logging.Warn("circuit_state_change", map[string]any{
				"target": name, "from": convertState(from), "to": convertState(to),
			})
		},
	})
	metrics.SetBreakerState(target, 0)
	b.circuits[target] = c
	return c
}

// answered reports whether err leaves the target looking healthy. Rejected
// input and permanent client errors mean the target answered; they count as
// successes, so they reset the failure streak and close a half-open circuit.
func answered(err error) bool {
	var p *permanentError
	return err == nil || model.IsValidation(err) || errors.As(err, &p)
}

// Execute runs op through target's circuit.
func (b *Breakers) Execute(target string, op func() error) error {
	_, err := Call(b, target, func() (struct{}, error) { return struct{}{}, op() })
	return err
}

// Call runs op through target's circuit and returns its value. While the
// circuit is open op is not invoked and a *CircuitOpenError is returned.
func Call[T any](b *Breakers, target string, op func() (T, error)) (T, error) {
	var zero T
	c := b.get(target)
	v, err := c.cb.Execute(func() (interface{}, error) {
		v, err := op()
		// mirrors gobreaker's consecutive failure count
		c.mu.Lock()
		if answered(err) {
			c.failures = 0
		} else {
			c.failures++
			c.lastFailure = time.Now()
		}
		c.mu.Unlock()
		return v, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.mu.Lock()
		retryAt := c.openedAt.Add(c.cfg.OpenTimeout)
		c.mu.Unlock()
		return zero, &CircuitOpenError{Target: target, RetryAt: retryAt}
	}
	if err != nil {
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

// State returns a snapshot of target's circuit. Unused targets report closed.
func (b *Breakers) State(target string) CircuitState {
	b.mu.Lock()
	c, ok := b.circuits[target]
	cfg := b.defaults
	if o, found := b.overrides[target]; found {
		cfg = o
	}
	b.mu.Unlock()
	if !ok {
		return CircuitState{Target: target, State: StateClosed, FailureThreshold: cfg.FailureThreshold, OpenTimeout: cfg.OpenTimeout}
	}
	return c.snapshot(target)
}

// Snapshots returns every circuit created so far, sorted by target.
func (b *Breakers) Snapshots() []CircuitState {
	b.mu.Lock()
	targets := make([]string, 0, len(b.circuits))
	for t := range b.circuits {
		targets = append(targets, t)
	}
	b.mu.Unlock()
	sort.Strings(targets)
	out := make([]CircuitState, 0, len(targets))
	for _, t := range targets {
		out = append(out, b.State(t))
	}
	return out
}

func (c *circuit) snapshot(target string) CircuitState {
	// gobreaker may fire OnStateChange from State(), which takes c.mu.
	st := c.cb.State()
	c.mu.Lock()
	defer c.mu.Unlock()
	s := CircuitState{
		Target:              target,
		State:               convertState(st),
		ConsecutiveFailures: c.failures,
		FailureThreshold:    c.cfg.FailureThreshold,
		OpenTimeout:         c.cfg.OpenTimeout,
	}
	if !c.lastFailure.IsZero() {
		lf := c.lastFailure
		s.LastFailure = &lf
	}
	return s
}

func convertState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func stateGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
