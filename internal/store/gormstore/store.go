// Package gormstore implements the order/scope store on Gorm + SQLite.
package gormstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"steward/internal/store"
	"steward/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// GormStore persists orders and tracking-scope entries in a single SQLite
// database.
type GormStore struct {
	db *gorm.DB
}

var _ store.Store = (*GormStore)(nil)

// New opens (creating if needed) the SQLite database at path and migrates the
// schema.
func New(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// The DSN uses modernc's _pragma syntax and the build runs with
	// CGO_ENABLED=0, so point the gorm sqlite dialector at the pure-Go
	// "sqlite" driver registered by modernc.org/sqlite.
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.OrderModel{}, &model.TrackingScopeModel{}); err != nil {
		return nil, err
	}
	// AutoMigrate cannot express a partial index, so the
	// one-non-terminal-order-per-symbol constraint is created by hand.
	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_active_symbol
		 ON orders(symbol) WHERE status NOT IN ('closed', 'cancelled')`,
	).Error; err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep a little parallelism for concurrent loop reads while
	// holding lock contention down.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
