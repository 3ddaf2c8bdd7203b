// Package retry executes operations against external backends with
// exponential backoff, separating transient failures (retried) from
// caller errors (surfaced immediately).
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
	"github.com/kailas-cloud/recall/internal/metrics"
)

// jitterFraction bounds the random term added to each wait so concurrent
// callers do not retry in lockstep.
const jitterFraction = 0.2

// Config parameterizes a retry policy.
type Config struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// Stats are the shared counters of a policy, keyed by error kind.
type Stats struct {
	Attempts  uint64
	Retries   uint64
	Successes uint64
	Exhausted uint64
	Aborted   uint64
	// FailuresByKind counts failed attempts per classified error kind.
	FailuresByKind map[string]uint64
}

// Policy retries transient failures with exponential backoff and jitter.
// Safe for concurrent use; all executions share one set of counters.
type Policy struct {
	cfg    Config
	logger *zap.Logger

	mu             sync.Mutex
	attempts       uint64
	retries        uint64
	successes      uint64
	exhausted      uint64
	aborted        uint64
	failuresByKind map[string]uint64
}

// New creates a retry policy.
func New(cfg Config, logger *zap.Logger) (*Policy, error) {
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("%w: max attempts must be >= 1, got %d", domain.ErrInvalidArgument, cfg.MaxAttempts)
	}
	if cfg.InitialWait <= 0 {
		return nil, fmt.Errorf("%w: initial wait must be positive, got %s", domain.ErrInvalidArgument, cfg.InitialWait)
	}
	if cfg.MaxWait < cfg.InitialWait {
		return nil, fmt.Errorf("%w: max wait %s below initial wait %s", domain.ErrInvalidArgument, cfg.MaxWait, cfg.InitialWait)
	}
	if cfg.Multiplier < 1 {
		return nil, fmt.Errorf("%w: multiplier must be >= 1, got %g", domain.ErrInvalidArgument, cfg.Multiplier)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{cfg: cfg, logger: logger, failuresByKind: make(map[string]uint64)}, nil
}

// Execute runs op, retrying transient failures until success, exhaustion,
// or a permanent error. The last error is returned after exhaustion.
func (p *Policy) Execute(ctx context.Context, name string, op func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := p.sleep(ctx, p.waitBefore(attempt)); err != nil {
				return err
			}
		}

		p.recordAttempt()

		err := op(ctx)
		if err == nil {
			p.recordSuccess()
			return nil
		}
		lastErr = err

		kind, retryable := Classify(err)
		p.recordFailure(kind)

		if !retryable {
			p.recordOutcome(kind, "aborted")
			return err
		}
		if ctx.Err() != nil {
			p.recordOutcome(kind, "aborted")
			return ctx.Err()
		}
		if attempt < p.cfg.MaxAttempts {
			p.recordOutcome(kind, "retry")
			p.logger.Debug("retrying operation",
				zap.String("operation", name),
				zap.Int("attempt", attempt),
				zap.String("kind", kind),
				zap.Error(err),
			)
			continue
		}
		p.recordOutcome(kind, "exhausted")
	}

	p.mu.Lock()
	p.exhausted++
	p.mu.Unlock()
	return fmt.Errorf("%s: %d attempts exhausted: %w", name, p.cfg.MaxAttempts, lastErr)
}

// Do runs a value-returning operation under policy p.
func Do[T any](ctx context.Context, p *Policy, name string, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Execute(ctx, name, func(ctx context.Context) error {
		var opErr error
		out, opErr = op(ctx)
		return opErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// waitBefore returns the backoff before attempt n (n >= 2):
// min(initial * multiplier^(n-2), max) plus a jitter term.
func (p *Policy) waitBefore(attempt int) time.Duration {
	wait := p.cfg.InitialWait
	for i := 2; i < attempt; i++ {
		wait = time.Duration(float64(wait) * p.cfg.Multiplier)
		if wait >= p.cfg.MaxWait {
			wait = p.cfg.MaxWait
			break
		}
	}
	jitter := time.Duration(rand.Float64() * jitterFraction * float64(wait))
	return wait + jitter
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (p *Policy) recordAttempt() {
	p.mu.Lock()
	p.attempts++
	p.mu.Unlock()
}

func (p *Policy) recordSuccess() {
	p.mu.Lock()
	p.successes++
	p.mu.Unlock()
	metrics.RetryAttemptsTotal.WithLabelValues("none", "success").Inc()
}

func (p *Policy) recordFailure(kind string) {
	p.mu.Lock()
	p.failuresByKind[kind]++
	p.mu.Unlock()
}

func (p *Policy) recordOutcome(kind, outcome string) {
	if outcome == "retry" {
		p.mu.Lock()
		p.retries++
		p.mu.Unlock()
	}
	if outcome == "aborted" {
		p.mu.Lock()
		p.aborted++
		p.mu.Unlock()
	}
	metrics.RetryAttemptsTotal.WithLabelValues(kind, outcome).Inc()
}

// GetRetryStats returns a snapshot of the shared counters.
func (p *Policy) GetRetryStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	byKind := make(map[string]uint64, len(p.failuresByKind))
	for k, v := range p.failuresByKind {
		byKind[k] = v
	}
	return Stats{
		Attempts:       p.attempts,
		Retries:        p.retries,
		Successes:      p.successes,
		Exhausted:      p.exhausted,
		Aborted:        p.aborted,
		FailuresByKind: byKind,
	}
}

// Classify partitions an error into a kind label and whether it is
// transient. Validation and usage errors are permanent; connection,
// timeout, and generic I/O failures are transient.
func Classify(err error) (kind string, retryable bool) {
	switch {
	case err == nil:
		return "none", false
	case errors.Is(err, context.Canceled):
		return "canceled", false
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument", false
	case errors.Is(err, domain.ErrNotFound):
		return "not_found", false
	case errors.Is(err, domain.ErrBackendClosed):
		return "closed", false
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, domain.ErrTimeout):
		return "timeout", true
	case errors.Is(err, domain.ErrBackendUnavailable):
		return "connection", true
	case errors.Is(err, domain.ErrEmbeddingProvider):
		return "provider", true
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return "io", true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout", true
		}
		return "connection", true
	}

	return "unknown", false
}
