package library

import (
	"context"

	"gorm.io/gorm/clause"
)

// SetSetting inserts or replaces a preference by key.
func (s *Store) SetSetting(ctx context.Context, setting *Setting) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(setting).Error
}

// Setting fetches a preference by key.
func (s *Store) Setting(ctx context.Context, key string) (*Setting, error) {
	var out Setting
	err := s.db.WithContext(ctx).First(&out, "key = ?", key).Error
	if err != nil {
		return nil, convertNotFoundError(err)
	}
	return &out, nil
}

// Settings lists every preference, by key.
func (s *Store) Settings(ctx context.Context) ([]Setting, error) {
	var out []Setting
	err := s.db.WithContext(ctx).Order("key ASC").Find(&out).Error
	return out, err
}

// DeleteSetting removes a preference. Deleting an absent key is not an error.
func (s *Store) DeleteSetting(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&Setting{}, "key = ?", key).Error
}

// SaveProgress inserts or replaces a reading progress marker by id.
func (s *Store) SaveProgress(ctx context.Context, p *ReadingProgress) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(p).Error
}

// Progress fetches a reading progress marker by id.
func (s *Store) Progress(ctx context.Context, id string) (*ReadingProgress, error) {
	var out ReadingProgress
	err := s.db.WithContext(ctx).First(&out, "id = ?", id).Error
	if err != nil {
		return nil, convertNotFoundError(err)
	}
	return &out, nil
}

// AllProgress lists every reading progress marker.
func (s *Store) AllProgress(ctx context.Context) ([]ReadingProgress, error) {
	var out []ReadingProgress
	err := s.db.WithContext(ctx).Order("updated_at DESC").Find(&out).Error
	return out, err
}

// DeleteProgress removes a progress marker. Deleting an absent id is not an error.
func (s *Store) DeleteProgress(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&ReadingProgress{}, "id = ?", id).Error
}
