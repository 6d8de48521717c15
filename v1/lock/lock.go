package lock

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/cadecode/dlock/v1/lock")

// Locker is the uniform contract implemented by both engines.
//
// The Holder identifies the logical owner and carries its reentrancy state; a
// holder that already owns name may re-acquire it and must then release it the
// same number of times. Neither engine guarantees any ordering among waiters.
type Locker interface {
	// Lock acquires the lock, blocking until it succeeds, the backend fails,
	// or ctx is cancelled between attempts.
	Lock(ctx context.Context, h *Holder, name string) error
	// TryLock attempts to acquire the lock without waiting.
	TryLock(ctx context.Context, h *Holder, name string) (bool, error)
	// TryLockFor retries acquisition until timeout elapses.
	TryLockFor(ctx context.Context, h *Holder, name string, timeout time.Duration) (bool, error)
	// Unlock releases one level of the lock. Releasing a lock the holder does
	// not own is a silent no-op.
	Unlock(ctx context.Context, h *Holder, name string) error
}

const (
	// defaultTTL is the lease time applied by the TTL engine.
	defaultTTL = 30 * time.Second
	// defaultPollInterval is the back-off between acquisition attempts for
	// the blocking and timed modes.
	defaultPollInterval = 300 * time.Millisecond
)

// Option configures an engine.
type Option func(*options)

type options struct {
	ttl          time.Duration
	pollInterval time.Duration
	logger       Logger
	tracing      bool
}

func defaultOptions() options {
	return options{
		ttl:          defaultTTL,
		pollInterval: defaultPollInterval,
		logger:       newDefaultLogger(),
	}
}

// WithTTL sets the lease time used by the TTL engine.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		o.ttl = d
	}
}

// WithPollInterval sets the back-off between acquisition attempts.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

// WithLogger sets the engine logger.
func WithLogger(l Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithTracing enables OpenTelemetry spans for lock operations.
func WithTracing() Option {
	return func(o *options) {
		o.tracing = true
	}
}

// sleep waits d or returns early with the context error.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
