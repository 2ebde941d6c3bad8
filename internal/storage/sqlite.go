package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// kvRecord is the row layout of the watch_entries table.
type kvRecord struct {
	Key   []byte `gorm:"column:entry_key;primaryKey;type:blob"`
	Value []byte `gorm:"column:entry_value;type:blob;not null"`
}

func (kvRecord) TableName() string {
	return "watch_entries"
}

// SQLiteOptions parameterise the local SQLite backend.
type SQLiteOptions struct {
	Path        string
	BusyTimeout time.Duration
}

// SQLiteKV stores watch entries in a local SQLite file through gorm.
type SQLiteKV struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the SQLite database at opts.Path.
func OpenSQLite(opts SQLiteOptions) (*SQLiteKV, error) {
	if opts.Path == "" {
		return nil, ErrNotConfigured
	}
	if dir := filepath.Dir(opts.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, wrapErr("open", fmt.Errorf("create state dir: %w", err))
		}
	}

	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	// WAL with synchronous=FULL makes every commit durable before it is acknowledged.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=%d&_txlock=immediate",
		opts.Path, busy.Milliseconds())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, wrapErr("open", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, wrapErr("open", err)
	}
	// One writer connection serialises statements and avoids SQLITE_BUSY between writers.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&kvRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, wrapErr("migrate", err)
	}

	return &SQLiteKV{db: db}, nil
}

// Get returns the value stored under key.
func (s *SQLiteKV) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	var rec kvRecord
	err := s.db.WithContext(ctx).Where("entry_key = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapErr("get", err)
	}
	return rec.Value, true, nil
}

// Put inserts or overwrites key.
func (s *SQLiteKV) Put(ctx context.Context, key, value []byte) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"entry_value"}),
	}).Create(&kvRecord{Key: key, Value: value}).Error
	return wrapErr("put", err)
}

// Replace overwrites key only when it already exists.
func (s *SQLiteKV) Replace(ctx context.Context, key, value []byte) (bool, error) {
	res := s.db.WithContext(ctx).Model(&kvRecord{}).Where("entry_key = ?", key).Update("entry_value", value)
	if res.Error != nil {
		return false, wrapErr("replace", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Delete removes key; deleting a missing key is not an error.
func (s *SQLiteKV) Delete(ctx context.Context, key []byte) error {
	err := s.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&kvRecord{}).Error
	return wrapErr("delete", err)
}

// Iterate visits every pair in key order.
func (s *SQLiteKV) Iterate(ctx context.Context, fn func(key, value []byte) error) error {
	var records []kvRecord
	if err := s.db.WithContext(ctx).Order("entry_key").Find(&records).Error; err != nil {
		return wrapErr("iterate", err)
	}
	for _, rec := range records {
		if err := fn(rec.Key, rec.Value); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteKV) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ KV = (*SQLiteKV)(nil)
