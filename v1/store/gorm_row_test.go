package store

import (
	"context"
	stdErrors "errors"
	"os"
	"testing"

	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	dlockerrors "github.com/cadecode/dlock/v1/errors"
)

// These tests need a real MySQL server: row locks cannot be emulated by an
// embedded database. Set DLOCK_MYSQL_DSN to run them, e.g.
// "root:root@tcp(127.0.0.1:3306)/dlock_test?parseTime=true".
func newGormRowStore(t *testing.T) *GormRowStore {
	t.Helper()
	dsn := os.Getenv("DLOCK_MYSQL_DSN")
	if dsn == "" {
		t.Skip("DLOCK_MYSQL_DSN not set")
	}
	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("gorm open: %v", err)
	}
	return NewGormRowStore(db, WithGormTableName("distributed_lock_test"))
}

func TestGormRowInsertAndSelect(t *testing.T) {
	st := newGormRowStore(t)
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	name := "gorm-insert-" + t.Name()
	if err := tx.Insert(ctx, LockRow{Name: name}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Insert(ctx, LockRow{Name: name}); err != nil {
		t.Fatalf("duplicate insert: %v", err)
	}
	row, found, err := tx.SelectForUpdate(ctx, name)
	if err != nil || !found {
		t.Fatalf("select: found %v err %v", found, err)
	}
	row.Addr = "10.0.0.1"
	row.TaskID = 1
	row.Count = 1
	if err := tx.Update(ctx, row); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestGormRowNoWaitContention(t *testing.T) {
	st := newGormRowStore(t)
	ctx := context.Background()
	name := "gorm-nowait-" + t.Name()

	tx1, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := tx1.Insert(ctx, LockRow{Name: name}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, _, err := tx1.SelectForUpdate(ctx, name); err != nil {
		t.Fatalf("lock: %v", err)
	}

	tx2, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("begin tx2: %v", err)
	}
	if _, _, err := tx2.SelectForUpdateNoWait(ctx, name); !stdErrors.Is(err, dlockerrors.ErrContended) {
		t.Fatalf("expected ErrContended, got %v", err)
	}
	_ = tx2.Rollback()

	if err := tx1.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	tx3, err := st.Begin(ctx)
	if err != nil {
		t.Fatalf("begin tx3: %v", err)
	}
	if _, found, err := tx3.SelectForUpdateNoWait(ctx, name); err != nil || !found {
		t.Fatalf("expected lock free after commit, found %v err %v", found, err)
	}
	_ = tx3.Rollback()
}
