// Package store defines the backend collaborator contracts used by the lock
// engines: a transactional row store whose row locks provide mutual exclusion,
// and a TTL key-value store whose atomic conditional sets do the same.
package store

import (
	"context"
	"time"
)

// LockRow is the persisted record for a named lock in a RowStore. There is at
// most one row per name; the row is never deleted, only its content is reset.
type LockRow struct {
	Name      string
	Addr      string
	TaskID    uint64
	Count     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RowStore opens transactions against the relational backend. The store itself
// must be safe for concurrent use; each RowTx belongs to a single holder.
type RowStore interface {
	Begin(ctx context.Context) (RowTx, error)
}

// RowTx is a single open transaction. The row lock taken by SelectForUpdate is
// held until Commit or Rollback.
type RowTx interface {
	// SelectForUpdate reads the row for name and locks it, blocking until any
	// competing transaction releases it. The boolean reports whether the row
	// exists.
	SelectForUpdate(ctx context.Context, name string) (LockRow, bool, error)
	// SelectForUpdateNoWait is SelectForUpdate except that it returns
	// errors.ErrContended immediately when the row is locked elsewhere.
	SelectForUpdateNoWait(ctx context.Context, name string) (LockRow, bool, error)
	// Insert creates the row for a never-before-seen name. A concurrent
	// insert racing this one is benign: duplicate keys are not an error.
	Insert(ctx context.Context, row LockRow) error
	// Update writes the row back under the held row lock.
	Update(ctx context.Context, row LockRow) error
	Commit() error
	Rollback() error
}

// TTLStore is the key-value backend. Key existence is the lock; the value is
// an opaque holder token. All operations must be atomic on the backend side.
type TTLStore interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	SetIfPresent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
}
