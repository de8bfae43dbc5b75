package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RetryConfig controls retries of transient backend failures.
type RetryConfig struct {
	MaxRetries    int
	Backoff       time.Duration
	CircuitLimit  int           // consecutive transient failures before opening
	CircuitWindow time.Duration // how long the circuit stays open
}

// ApplyDefaults fills zero values.
func (c *RetryConfig) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.Backoff == 0 {
		c.Backoff = time.Second
	}
	if c.CircuitLimit == 0 {
		c.CircuitLimit = 5
	}
	if c.CircuitWindow == 0 {
		c.CircuitWindow = 30 * time.Second
	}
}

// retrier retries transient errors with exponential backoff and trips a
// circuit breaker after repeated failures.
type retrier struct {
	cfg       RetryConfig
	transient func(error) bool
	now       func() time.Time

	mu       sync.Mutex
	failures int
	lastFail time.Time
}

func newRetrier(cfg RetryConfig, transient func(error) bool) *retrier {
	cfg.ApplyDefaults()
	return &retrier{cfg: cfg, transient: transient, now: time.Now}
}

func (r *retrier) do(ctx context.Context, op string, fn func(context.Context) error) error {
	if r.isOpen() {
		backendErrors.WithLabelValues(op, "circuit_open").Inc()
		return fmt.Errorf("%s: %w", op, ErrCircuitOpen)
	}

	backoff := r.cfg.Backoff
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			r.reset()
			return nil
		}
		if !r.transient(err) {
			return fmt.Errorf("%s: %w", op, err)
		}

		r.recordFailure()
		backendErrors.WithLabelValues(op, "transient").Inc()
		if attempt >= r.cfg.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", op, r.cfg.MaxRetries, err)
		}
		if r.isOpen() {
			return fmt.Errorf("%s: %w: %v", op, ErrCircuitOpen, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", op, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (r *retrier) recordFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
	r.lastFail = r.now()
}

func (r *retrier) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = 0
}

func (r *retrier) isOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures < r.cfg.CircuitLimit {
		return false
	}
	if r.now().Sub(r.lastFail) > r.cfg.CircuitWindow {
		// Half-open: let the next call test the backend.
		r.failures = 0
		return false
	}
	return true
}
