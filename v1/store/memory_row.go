package store

import (
	"context"
	"sync"
	"time"

	dlockerrors "github.com/cadecode/dlock/v1/errors"
)

// MemoryRowStore implements RowStore in process memory. Each row carries a
// binary semaphore that stands in for the database row lock, so blocking and
// NOWAIT selects behave like their SQL counterparts. It is mainly used in
// tests, where a MySQL server cannot be assumed.
type MemoryRowStore struct {
	mu   sync.Mutex
	rows map[string]*memRow
}

type memRow struct {
	sem chan struct{} // holds one token while the row is locked
	row LockRow
}

// NewMemoryRowStore returns a new MemoryRowStore.
func NewMemoryRowStore() *MemoryRowStore {
	return &MemoryRowStore{rows: make(map[string]*memRow)}
}

// Row returns the current content of the row for name, if present. Intended
// for assertions in tests.
func (s *MemoryRowStore) Row(name string) (LockRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[name]
	if !ok {
		return LockRow{}, false
	}
	return r.row, true
}

// Begin implements RowStore.Begin.
func (s *MemoryRowStore) Begin(ctx context.Context) (RowTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryRowTx{store: s, locked: make(map[string]*memRow)}, nil
}

type memoryRowTx struct {
	store  *MemoryRowStore
	locked map[string]*memRow
	closed bool
}

// SelectForUpdate implements RowTx.SelectForUpdate.
func (t *memoryRowTx) SelectForUpdate(ctx context.Context, name string) (LockRow, bool, error) {
	return t.selectLocked(ctx, name, true)
}

// SelectForUpdateNoWait implements RowTx.SelectForUpdateNoWait.
func (t *memoryRowTx) SelectForUpdateNoWait(ctx context.Context, name string) (LockRow, bool, error) {
	return t.selectLocked(ctx, name, false)
}

func (t *memoryRowTx) selectLocked(ctx context.Context, name string, wait bool) (LockRow, bool, error) {
	if t.closed {
		return LockRow{}, false, dlockerrors.ErrConnectionClosed
	}
	t.store.mu.Lock()
	r, ok := t.store.rows[name]
	t.store.mu.Unlock()
	if !ok {
		return LockRow{}, false, nil
	}
	if _, held := t.locked[name]; !held {
		if wait {
			select {
			case r.sem <- struct{}{}:
			case <-ctx.Done():
				return LockRow{}, false, ctx.Err()
			}
		} else {
			select {
			case r.sem <- struct{}{}:
			default:
				return LockRow{}, false, dlockerrors.ErrContended
			}
		}
		t.locked[name] = r
	}
	t.store.mu.Lock()
	row := r.row
	t.store.mu.Unlock()
	return row, true, nil
}

// Insert implements RowTx.Insert. An existing row is left untouched, matching
// the race-tolerant SQL insert.
func (t *memoryRowTx) Insert(ctx context.Context, row LockRow) error {
	if t.closed {
		return dlockerrors.ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if _, ok := t.store.rows[row.Name]; ok {
		return nil
	}
	now := time.Now()
	row.CreatedAt = now
	row.UpdatedAt = now
	t.store.rows[row.Name] = &memRow{sem: make(chan struct{}, 1), row: row}
	return nil
}

// Update implements RowTx.Update. Writes are applied eagerly: only the row
// lock holder can observe the row, so staging until Commit is unnecessary.
func (t *memoryRowTx) Update(ctx context.Context, row LockRow) error {
	if t.closed {
		return dlockerrors.ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r, held := t.locked[row.Name]
	if !held {
		return dlockerrors.ErrContended
	}
	t.store.mu.Lock()
	created := r.row.CreatedAt
	r.row = row
	r.row.CreatedAt = created
	t.store.mu.Unlock()
	return nil
}

// Commit implements RowTx.Commit, releasing every row lock held by this
// transaction.
func (t *memoryRowTx) Commit() error {
	return t.close()
}

// Rollback implements RowTx.Rollback. Content changes are not undone; the
// engines only roll back acquisition attempts whose writes are harmless to
// keep, since a lock row's content is reset on the next acquisition anyway.
func (t *memoryRowTx) Rollback() error {
	return t.close()
}

func (t *memoryRowTx) close() error {
	if t.closed {
		return dlockerrors.ErrConnectionClosed
	}
	t.closed = true
	for name, r := range t.locked {
		<-r.sem
		delete(t.locked, name)
	}
	return nil
}
