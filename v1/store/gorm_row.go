package store

import (
	"context"
	stdErrors "errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dlockerrors "github.com/cadecode/dlock/v1/errors"
)

const defaultGormTableName = "distributed_lock"

// MySQL error codes observed when a locked row cannot be taken.
const (
	mysqlErrNoWaitLock     = 3572 // NOWAIT is set and the row is locked
	mysqlErrLockWaitExceed = 1205 // innodb_lock_wait_timeout exceeded
)

// gormLockRow is the persistence model for LockRow. The name is the sole
// unique key; the row is never deleted once created.
type gormLockRow struct {
	Name      string    `gorm:"primaryKey;column:name"`
	Addr      string    `gorm:"column:ip"`
	TaskID    uint64    `gorm:"column:thread_id"`
	Count     int64     `gorm:"column:count"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// GormRowStore implements RowStore using a GORM MySQL backend. Row locks are
// taken with SELECT ... FOR UPDATE and FOR UPDATE NOWAIT.
type GormRowStore struct {
	db        *gorm.DB
	tableName string
}

// GormOption configures a GormRowStore.
type GormOption func(*gormRowOptions)

type gormRowOptions struct {
	tableName string
}

// WithGormTableName sets the lock table name.
func WithGormTableName(name string) GormOption {
	return func(o *gormRowOptions) {
		o.tableName = name
	}
}

// NewGormRowStore returns a new GormRowStore using the provided DB connection.
func NewGormRowStore(db *gorm.DB, opts ...GormOption) *GormRowStore {
	o := gormRowOptions{tableName: defaultGormTableName}
	for _, opt := range opts {
		opt(&o)
	}

	// Ensure the table exists
	if !db.Migrator().HasTable(o.tableName) {
		_ = db.Table(o.tableName).AutoMigrate(&gormLockRow{})
	}

	return &GormRowStore{db: db, tableName: o.tableName}
}

// Begin implements RowStore.Begin. The returned transaction is owned by the
// calling holder until Commit or Rollback.
func (s *GormRowStore) Begin(ctx context.Context) (RowTx, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &gormRowTx{tx: tx, tableName: s.tableName}, nil
}

type gormRowTx struct {
	tx        *gorm.DB
	tableName string
}

// SelectForUpdate implements RowTx.SelectForUpdate.
func (t *gormRowTx) SelectForUpdate(ctx context.Context, name string) (LockRow, bool, error) {
	return t.selectLocked(ctx, name, clause.Locking{Strength: "UPDATE"})
}

// SelectForUpdateNoWait implements RowTx.SelectForUpdateNoWait.
func (t *gormRowTx) SelectForUpdateNoWait(ctx context.Context, name string) (LockRow, bool, error) {
	return t.selectLocked(ctx, name, clause.Locking{Strength: "UPDATE", Options: "NOWAIT"})
}

func (t *gormRowTx) selectLocked(ctx context.Context, name string, locking clause.Locking) (LockRow, bool, error) {
	var row gormLockRow
	err := t.tx.WithContext(ctx).Table(t.tableName).Clauses(locking).
		First(&row, "name = ?", name).Error
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return LockRow{}, false, nil
	}
	if err != nil {
		return LockRow{}, false, mapMySQLErr(err)
	}
	return LockRow{
		Name:      row.Name,
		Addr:      row.Addr,
		TaskID:    row.TaskID,
		Count:     row.Count,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, true, nil
}

// Insert implements RowTx.Insert. A concurrent insert of the same name is
// expected and swallowed via ON CONFLICT DO NOTHING.
func (t *gormRowTx) Insert(ctx context.Context, row LockRow) error {
	rec := gormLockRow{
		Name:      row.Name,
		Addr:      row.Addr,
		TaskID:    row.TaskID,
		Count:     row.Count,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	err := t.tx.WithContext(ctx).Table(t.tableName).
		Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
	if err != nil {
		return mapMySQLErr(err)
	}
	return nil
}

// Update implements RowTx.Update.
func (t *gormRowTx) Update(ctx context.Context, row LockRow) error {
	err := t.tx.WithContext(ctx).Table(t.tableName).Where("name = ?", row.Name).
		Updates(map[string]any{
			"ip":         row.Addr,
			"thread_id":  row.TaskID,
			"count":      row.Count,
			"updated_at": row.UpdatedAt,
		}).Error
	if err != nil {
		return mapMySQLErr(err)
	}
	return nil
}

// Commit implements RowTx.Commit.
func (t *gormRowTx) Commit() error {
	return t.tx.Commit().Error
}

// Rollback implements RowTx.Rollback.
func (t *gormRowTx) Rollback() error {
	return t.tx.Rollback().Error
}

func mapMySQLErr(err error) error {
	var myErr *mysql.MySQLError
	if stdErrors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrNoWaitLock, mysqlErrLockWaitExceed:
			return dlockerrors.ErrContended
		}
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return dlockerrors.ErrTimeout
	}
	return err
}
