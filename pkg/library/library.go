// Package library stores the user's annotations and preferences: bookmarks,
// highlights, notes, settings and reading progress.
//
// The library is the local source of truth the reader UI renders from.
// Mutations land here first (optimistic write) and are propagated to the
// backend by the sync queue; conflict resolutions write back through the
// same store. Everything lives in a single SQLite database so the whole
// annotation state travels as one file.
package library

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("library: entity not found")

// Store persists annotation entities in SQLite via GORM.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the library database at path and runs migrations.
// The special path ":memory:" opens an in-memory database, used by tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create library directory: %w", err)
			}
		}
		// WAL keeps readers unblocked while the sync queue writes back
		// resolutions; the busy timeout covers checkpoint stalls.
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open library database: %w", err)
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate library database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Counts returns the number of stored entities per type, for status output.
func (s *Store) Counts(ctx context.Context) (map[EntityType]int64, error) {
	counts := make(map[EntityType]int64, 5)
	for entityType, model := range map[EntityType]any{
		EntityBookmark:        &Bookmark{},
		EntityHighlight:       &Highlight{},
		EntityNote:            &Note{},
		EntitySetting:         &Setting{},
		EntityReadingProgress: &ReadingProgress{},
	} {
		var n int64
		if err := s.db.WithContext(ctx).Model(model).Count(&n).Error; err != nil {
			return nil, fmt.Errorf("failed to count %s entities: %w", entityType, err)
		}
		counts[entityType] = n
	}
	return counts, nil
}

// convertNotFoundError maps GORM's record-not-found to the package sentinel.
func convertNotFoundError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
