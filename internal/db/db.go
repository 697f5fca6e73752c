package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	cgosqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrOrderImmutable = errors.New("order is no longer a draft")
	ErrInvalidItem    = errors.New("invalid line item")
	ErrUnknownKind    = errors.New("unknown entity kind")
)

// Handle is the local store: one SQLite file holding business tables and the sync queue.
type Handle struct {
	DB   *gorm.DB
	Path string
}

// OpenAt opens (or creates) posync.db inside dir.
// driver "sqlite" is the pure-Go engine, "sqlite-cgo" uses mattn/go-sqlite3.
func OpenAt(dir, driver string) (*Handle, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return Open(filepath.Join(dir, "posync.db"), driver)
}

// Open opens the local store at an explicit file path.
func Open(dbPath, driver string) (*Handle, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "sqlite":
		dialector = sqlite.Open(dbPath)
	case "sqlite-cgo":
		dialector = cgosqlite.Open(dbPath)
	default:
		return nil, fmt.Errorf("unsupported local driver %q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		// logger.Info when debugging SQL
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	// jeden writer: transakcje serializują się na tym połączeniu
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if err := gdb.Exec(pragma).Error; err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return &Handle{DB: gdb, Path: dbPath}, nil
}

func (h *Handle) Close() error {
	sqlDB, err := h.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
