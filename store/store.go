// Package store persists analysis results in SQLite so repeated
// uploads of an identical file are answered from cache and past
// reports can be fetched by id.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/prepress/preflight/analysis"
)

// ErrNotFound is returned when no record matches the lookup.
var ErrNotFound = errors.New("report not found")

// Record is one stored analysis result. Checksum is the SHA-256 of the
// uploaded bytes and is unique, so a file analyzes once.
type Record struct {
	ID         string `gorm:"primaryKey"`
	Checksum   string `gorm:"index:idx_records_checksum,unique"`
	Filename   string
	SizeBytes  int64
	DurationMS int64
	ReportJSON []byte
	CreatedAt  time.Time
}

// Report unmarshals the stored result.
func (r *Record) Report() (*analysis.Report, error) {
	rep := analysis.NewReport()
	if err := json.Unmarshal(r.ReportJSON, rep); err != nil {
		return nil, fmt.Errorf("stored report %s is corrupt: %w", r.ID, err)
	}
	return rep, nil
}

type Store struct {
	db *gorm.DB
}

// Open opens or creates the SQLite database at path and migrates the
// schema. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening report store: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrating report store: %w", err)
	}
	return &Store{db: db}, nil
}

// Save stores a fresh analysis result under its checksum. When another
// request stored the same checksum first, that record wins and is
// returned instead.
func (s *Store) Save(ctx context.Context, checksum, filename string, size int64, took time.Duration, rep *analysis.Report) (*Record, error) {
	data, err := json.Marshal(rep)
	if err != nil {
		return nil, fmt.Errorf("marshaling report: %w", err)
	}
	rec := &Record{
		ID:         uuid.NewString(),
		Checksum:   checksum,
		Filename:   filename,
		SizeBytes:  size,
		DurationMS: took.Milliseconds(),
		ReportJSON: data,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		// Unique checksum conflict: a concurrent upload got there first.
		if existing, lookupErr := s.FindByChecksum(ctx, checksum); lookupErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("saving report: %w", err)
	}
	return rec, nil
}

// FindByChecksum returns the cached record for a file's checksum, or
// ErrNotFound.
func (s *Store) FindByChecksum(ctx context.Context, checksum string) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("checksum = ?", checksum).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByID returns a stored record by its id, or ErrNotFound.
func (s *Store) FindByID(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
