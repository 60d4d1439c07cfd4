package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/vesaa/bwrecord/internal/models"
)

// DBStore keeps the records as rows of a SQLite database, one per Kind.
type DBStore struct {
	db *gorm.DB
}

// OpenDB opens the database at path and runs AutoMigrate.
func OpenDB(path string) (*DBStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.AutoMigrate(&models.Record{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	return &DBStore{db: db}, nil
}

func known(k Kind) error {
	for _, kk := range Kinds {
		if kk == k {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, k)
}

func (s *DBStore) find(k Kind) (*models.Record, error) {
	if err := known(k); err != nil {
		return nil, err
	}
	var rec models.Record
	err := s.db.Where("name = ?", string(k)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Read returns the stored value for k.
func (s *DBStore) Read(k Kind) (int64, error) {
	rec, err := s.find(k)
	if err != nil {
		return 0, err
	}
	return rec.Value, nil
}

// Write creates or updates the row for k.
func (s *DBStore) Write(k Kind, value int64) error {
	if value < 0 {
		return fmt.Errorf("negative record %d for %s", value, k)
	}
	rec, err := s.find(k)
	if errors.Is(err, ErrNotFound) {
		return s.db.Create(&models.Record{Name: string(k), Value: value}).Error
	}
	if err != nil {
		return err
	}
	// Update always bumps updated_at, which is the set-at time.
	return s.db.Model(rec).Update("value", value).Error
}

// SetAt returns the row's updated_at.
func (s *DBStore) SetAt(k Kind) (time.Time, error) {
	rec, err := s.find(k)
	if err != nil {
		return time.Time{}, err
	}
	return rec.UpdatedAt, nil
}

// Close releases the underlying connection pool.
func (s *DBStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
