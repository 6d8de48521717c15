package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dlockerrors "github.com/cadecode/dlock/v1/errors"
	"github.com/cadecode/dlock/v1/metrics"
	"github.com/cadecode/dlock/v1/store"
)

// TTLLocker implements Locker on a TTL key-value store. Existence of the key
// is the lock; a background renewer keeps it alive while held, so callers
// never pick a lease length for their critical section. Reentrancy lives
// entirely in the Holder: the key carries no count, only an opaque token.
//
// If the holding process dies, the key expires and the lock becomes
// acquirable again. Safety under partition is only as strong as the TTL.
type TTLLocker struct {
	store store.TTLStore
	opts  options
}

// NewTTLLocker returns a TTLLocker backed by st.
func NewTTLLocker(st store.TTLStore, opts ...Option) *TTLLocker {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &TTLLocker{store: st, opts: o}
}

// Lock implements Locker.Lock.
func (l *TTLLocker) Lock(ctx context.Context, h *Holder, name string) error {
	_, err := l.acquire(ctx, h, name, modeBlock, 0)
	return err
}

// TryLock implements Locker.TryLock.
func (l *TTLLocker) TryLock(ctx context.Context, h *Holder, name string) (bool, error) {
	return l.acquire(ctx, h, name, modeTry, 0)
}

// TryLockFor implements Locker.TryLockFor.
func (l *TTLLocker) TryLockFor(ctx context.Context, h *Holder, name string, timeout time.Duration) (bool, error) {
	return l.acquire(ctx, h, name, modeTimed, timeout)
}

func (l *TTLLocker) acquire(ctx context.Context, h *Holder, name string, mode acquireMode, timeout time.Duration) (ok bool, err error) {
	if name == "" {
		return false, dlockerrors.ErrEmptyName
	}
	if l.opts.tracing {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "TTLLocker.acquire",
			trace.WithAttributes(attribute.String("dlock.name", name)))
		defer func() {
			span.SetAttributes(attribute.Bool("dlock.acquired", ok))
			span.End()
		}()
	}

	// Reentrant fast path: no store interaction, the count is purely local.
	if e := h.entry(name); e != nil {
		if e.leaseLost() {
			l.discardLost(h, name, e)
			return false, dlockerrors.ErrLeaseLost
		}
		e.count++
		return true, nil
	}

	token := uuid.NewString()
	deadline := time.Now().Add(timeout)
	for {
		set, err := l.store.SetIfAbsent(ctx, name, token, l.opts.ttl)
		if err != nil {
			return false, err
		}
		if set {
			break
		}
		metrics.ContentionCounter.Inc()
		if mode == modeTry || (mode == modeTimed && time.Now().After(deadline)) {
			return false, nil
		}
		if err := sleep(ctx, l.opts.pollInterval); err != nil {
			return false, err
		}
	}

	h.put(name, &entry{
		count: 1,
		renew: startRenewer(l.store, name, token, l.opts.ttl, l.opts.logger),
	})
	metrics.AcquireCounter.Inc()
	metrics.HeldGauge.Inc()
	l.opts.logger.Debug(ctx, "ttl lock %q acquired by %s/%d", name, h.id.Addr, h.id.TaskID)
	return true, nil
}

// Unlock implements Locker.Unlock. Unlike the row engine it never reads the
// store first: all reentrancy bookkeeping is local. On the final release the
// renewer is stopped before the key is deleted, so no refresh can race the
// deletion.
func (l *TTLLocker) Unlock(ctx context.Context, h *Holder, name string) error {
	if name == "" {
		return dlockerrors.ErrEmptyName
	}
	e := h.entry(name)
	if e == nil {
		return nil
	}
	if e.leaseLost() {
		l.discardLost(h, name, e)
		return dlockerrors.ErrLeaseLost
	}

	e.count--
	if e.count > 0 {
		return nil
	}

	e.renew.stop()
	err := l.store.Delete(ctx, name)
	h.remove(name)
	metrics.ReleaseCounter.Inc()
	metrics.HeldGauge.Dec()
	l.opts.logger.Debug(ctx, "ttl lock %q released by %s/%d", name, h.id.Addr, h.id.TaskID)
	return err
}

// discardLost drops local state for a lease the renewer reported gone. The
// next operation on name starts from scratch.
func (l *TTLLocker) discardLost(h *Holder, name string, e *entry) {
	e.renew.stop()
	h.remove(name)
	metrics.HeldGauge.Dec()
}
