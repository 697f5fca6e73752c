// Package sqldoc keeps remote documents in one SQL table (Postgres, MySQL or SQLite via gorm).
package sqldoc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bartek5186/posync/internal/remote"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	cgosqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type Config struct {
	Driver string `json:"driver"` // postgres / mysql / sqlite / sqlite-cgo
	DSN    string `json:"dsn"`
}

// remote_documents
type document struct {
	Collection string    `gorm:"primaryKey;size:64"`
	ID         string    `gorm:"primaryKey;size:64"`
	Body       string    `gorm:"type:text"`
	UpdatedAt  time.Time `gorm:"index"`
}

func (document) TableName() string { return "remote_documents" }

type Store struct {
	log zerolog.Logger
	db  *gorm.DB
}

// Open łączy się z bazą i zakłada tabelę dokumentów.
func Open(log zerolog.Logger, cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "sqlite-cgo":
		dialector = cgosqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("sqldoc: unsupported driver %q", cfg.Driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("sqldoc open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == "" || cfg.Driver == "sqlite" || cfg.Driver == "sqlite-cgo" {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return NewWithDB(log, gdb)
}

// NewWithDB używa istniejącego połączenia (np. wspólnej bazy serwera).
func NewWithDB(log zerolog.Logger, gdb *gorm.DB) (*Store, error) {
	if err := gdb.AutoMigrate(&document{}); err != nil {
		return nil, fmt.Errorf("sqldoc migrate: %w", err)
	}
	return &Store{log: log, db: gdb}, nil
}

func (s *Store) Name() string { return "sql" }

func (s *Store) Upsert(ctx context.Context, collection, id string, body json.RawMessage) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	doc := document{
		Collection: collection,
		ID:         id,
		Body:       string(body),
		UpdatedAt:  time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "collection"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
	}).Create(&doc).Error
	if err != nil {
		return "", wrap(err)
	}
	return id, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	err := s.db.WithContext(ctx).
		Where("collection = ? AND id = ?", collection, id).
		Delete(&document{}).Error
	return wrap(err)
}

func (s *Store) QueryUpdatedSince(ctx context.Context, collection string, since time.Time) ([]remote.Document, error) {
	q := s.db.WithContext(ctx).Where("collection = ?", collection)
	if !since.IsZero() {
		q = q.Where("updated_at > ?", since.UTC())
	}
	var rows []document
	if err := q.Order("updated_at ASC").Find(&rows).Error; err != nil {
		return nil, wrap(err)
	}
	out := make([]remote.Document, 0, len(rows))
	for _, r := range rows {
		out = append(out, remote.Document{
			ID:        r.ID,
			UpdatedAt: r.UpdatedAt,
			Body:      json.RawMessage(r.Body),
		})
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// błędy połączenia => ErrUnavailable, reszta bez zmian
func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isConnErr(err) {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	return err
}

func factory(log zerolog.Logger, raw json.RawMessage) (remote.Store, error) {
	var cfg Config
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
	}
	if cfg.DSN == "" {
		return nil, errors.New("sqldoc: dsn is required")
	}
	return Open(log, cfg)
}

func init() {
	remote.Register("sql", factory)
}
