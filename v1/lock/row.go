package lock

import (
	"context"
	stdErrors "errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	dlockerrors "github.com/cadecode/dlock/v1/errors"
	"github.com/cadecode/dlock/v1/metrics"
	"github.com/cadecode/dlock/v1/store"
)

// RowLocker implements Locker on a transactional row store. Mutual exclusion
// comes from the store's row lock: the first acquisition opens a transaction,
// locks the row for name and keeps the transaction open until the final
// Unlock commits it.
type RowLocker struct {
	store store.RowStore
	opts  options
}

// NewRowLocker returns a RowLocker backed by st.
func NewRowLocker(st store.RowStore, opts ...Option) *RowLocker {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RowLocker{store: st, opts: o}
}

// Lock implements Locker.Lock.
func (l *RowLocker) Lock(ctx context.Context, h *Holder, name string) error {
	_, err := l.acquire(ctx, h, name, modeBlock, 0)
	return err
}

// TryLock implements Locker.TryLock.
func (l *RowLocker) TryLock(ctx context.Context, h *Holder, name string) (bool, error) {
	return l.acquire(ctx, h, name, modeTry, 0)
}

// TryLockFor implements Locker.TryLockFor.
func (l *RowLocker) TryLockFor(ctx context.Context, h *Holder, name string, timeout time.Duration) (bool, error) {
	return l.acquire(ctx, h, name, modeTimed, timeout)
}

type acquireMode int

const (
	modeBlock acquireMode = iota
	modeTry
	modeTimed
)

func (l *RowLocker) acquire(ctx context.Context, h *Holder, name string, mode acquireMode, timeout time.Duration) (ok bool, err error) {
	if name == "" {
		return false, dlockerrors.ErrEmptyName
	}
	if l.opts.tracing {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "RowLocker.acquire",
			trace.WithAttributes(attribute.String("dlock.name", name)))
		defer func() {
			span.SetAttributes(attribute.Bool("dlock.acquired", ok))
			span.End()
		}()
	}

	// Reentrant fast path. The transaction already holds the row lock, so the
	// re-select returns immediately; the persisted count is bumped because
	// Unlock consults it.
	if e := h.entry(name); e != nil {
		row, found, err := e.tx.SelectForUpdate(ctx, name)
		if err != nil {
			return false, err
		}
		if found {
			row.Count++
			row.UpdatedAt = time.Now()
			if err := e.tx.Update(ctx, row); err != nil {
				return false, err
			}
		}
		e.count++
		return true, nil
	}

	tx, err := l.store.Begin(ctx)
	if err != nil {
		return false, err
	}

	row, err := l.lockRow(ctx, tx, name, mode, timeout)
	if err != nil {
		_ = tx.Rollback()
		if stdErrors.Is(err, dlockerrors.ErrContended) {
			return false, nil
		}
		return false, err
	}

	now := time.Now()
	row.Addr = h.id.Addr
	row.TaskID = h.id.TaskID
	row.Count = 1
	row.UpdatedAt = now
	if err := tx.Update(ctx, row); err != nil {
		_ = tx.Rollback()
		return false, err
	}

	h.put(name, &entry{count: 1, tx: tx})
	metrics.AcquireCounter.Inc()
	metrics.HeldGauge.Inc()
	l.opts.logger.Debug(ctx, "row lock %q acquired by %s/%d", name, h.id.Addr, h.id.TaskID)
	return true, nil
}

// lockRow obtains the row lock for name under tx according to mode. A missing
// row is inserted and the select repeated, so the just-inserted or
// concurrently-inserted row ends up locked under this transaction.
func (l *RowLocker) lockRow(ctx context.Context, tx store.RowTx, name string, mode acquireMode, timeout time.Duration) (store.LockRow, error) {
	deadline := time.Now().Add(timeout)
	for {
		row, err := l.selectLocked(ctx, tx, name, mode == modeBlock)
		if err == nil {
			return row, nil
		}
		if !stdErrors.Is(err, dlockerrors.ErrContended) {
			return store.LockRow{}, err
		}
		metrics.ContentionCounter.Inc()
		if mode == modeTry || (mode == modeTimed && time.Now().After(deadline)) {
			return store.LockRow{}, err
		}
		if err := sleep(ctx, l.opts.pollInterval); err != nil {
			return store.LockRow{}, err
		}
	}
}

func (l *RowLocker) selectLocked(ctx context.Context, tx store.RowTx, name string, wait bool) (store.LockRow, error) {
	sel := tx.SelectForUpdateNoWait
	if wait {
		sel = tx.SelectForUpdate
	}
	for {
		row, found, err := sel(ctx, name)
		if err != nil {
			return store.LockRow{}, err
		}
		if found {
			return row, nil
		}
		// First acquisition of a never-before-seen name. A concurrent
		// insert racing this one is benign; the re-select decides the
		// winner.
		if err := tx.Insert(ctx, store.LockRow{Name: name}); err != nil {
			return store.LockRow{}, err
		}
	}
}

// Unlock implements Locker.Unlock. The persisted count is the source of
// truth: the write setting it to 0 happens inside the same transaction whose
// commit releases the row lock, so no other holder can observe a released row
// lock with a stale count.
func (l *RowLocker) Unlock(ctx context.Context, h *Holder, name string) error {
	if name == "" {
		return dlockerrors.ErrEmptyName
	}
	e := h.entry(name)
	if e == nil {
		return nil
	}
	if l.opts.tracing {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "RowLocker.Unlock",
			trace.WithAttributes(attribute.String("dlock.name", name)))
		defer span.End()
	}

	row, found, err := e.tx.SelectForUpdate(ctx, name)
	if err != nil {
		return err
	}
	// Never release a lock the persisted record attributes to someone else.
	if !found || row.Addr != h.id.Addr || row.TaskID != h.id.TaskID {
		l.opts.logger.Warn(ctx, "row lock %q not attributed to %s/%d, ignoring unlock", name, h.id.Addr, h.id.TaskID)
		return nil
	}
	if row.Count == 0 {
		return nil
	}

	row.Count--
	row.UpdatedAt = time.Now()
	if err := e.tx.Update(ctx, row); err != nil {
		return err
	}
	if row.Count > 0 {
		// Reentrant holders still need the row lock; keep the
		// transaction open.
		e.count--
		return nil
	}

	if err := e.tx.Commit(); err != nil {
		return err
	}
	h.remove(name)
	metrics.ReleaseCounter.Inc()
	metrics.HeldGauge.Dec()
	l.opts.logger.Debug(ctx, "row lock %q released by %s/%d", name, h.id.Addr, h.id.TaskID)
	return nil
}
