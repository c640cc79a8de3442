package library

import (
	"context"

	"gorm.io/gorm/clause"
)

// SaveBookmark inserts or replaces a bookmark by id.
func (s *Store) SaveBookmark(ctx context.Context, b *Bookmark) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(b).Error
}

// Bookmark fetches a bookmark by id.
func (s *Store) Bookmark(ctx context.Context, id string) (*Bookmark, error) {
	var b Bookmark
	err := s.db.WithContext(ctx).First(&b, "id = ?", id).Error
	if err != nil {
		return nil, convertNotFoundError(err)
	}
	return &b, nil
}

// Bookmarks lists every bookmark, most recently created first.
func (s *Store) Bookmarks(ctx context.Context) ([]Bookmark, error) {
	var out []Bookmark
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// BookmarksForChapter lists the bookmarks inside one chapter, by verse.
func (s *Store) BookmarksForChapter(ctx context.Context, book string, chapter int) ([]Bookmark, error) {
	var out []Bookmark
	err := s.db.WithContext(ctx).
		Where("book = ? AND chapter = ?", book, chapter).
		Order("verse ASC").
		Find(&out).Error
	return out, err
}

// DeleteBookmark removes a bookmark. Deleting an absent id is not an error.
func (s *Store) DeleteBookmark(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&Bookmark{}, "id = ?", id).Error
}

// SaveHighlight inserts or replaces a highlight by id.
func (s *Store) SaveHighlight(ctx context.Context, h *Highlight) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(h).Error
}

// Highlight fetches a highlight by id.
func (s *Store) Highlight(ctx context.Context, id string) (*Highlight, error) {
	var h Highlight
	err := s.db.WithContext(ctx).First(&h, "id = ?", id).Error
	if err != nil {
		return nil, convertNotFoundError(err)
	}
	return &h, nil
}

// HighlightsForChapter lists the highlights inside one chapter, by start verse.
func (s *Store) HighlightsForChapter(ctx context.Context, book string, chapter int) ([]Highlight, error) {
	var out []Highlight
	err := s.db.WithContext(ctx).
		Where("book = ? AND chapter = ?", book, chapter).
		Order("verse_start ASC").
		Find(&out).Error
	return out, err
}

// DeleteHighlight removes a highlight. Deleting an absent id is not an error.
func (s *Store) DeleteHighlight(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&Highlight{}, "id = ?", id).Error
}

// SaveNote inserts or replaces a note by id.
func (s *Store) SaveNote(ctx context.Context, n *Note) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(n).Error
}

// Note fetches a note by id.
func (s *Store) Note(ctx context.Context, id string) (*Note, error) {
	var n Note
	err := s.db.WithContext(ctx).First(&n, "id = ?", id).Error
	if err != nil {
		return nil, convertNotFoundError(err)
	}
	return &n, nil
}

// NotesForChapter lists the notes inside one chapter, by verse.
func (s *Store) NotesForChapter(ctx context.Context, book string, chapter int) ([]Note, error) {
	var out []Note
	err := s.db.WithContext(ctx).
		Where("book = ? AND chapter = ?", book, chapter).
		Order("verse ASC").
		Find(&out).Error
	return out, err
}

// DeleteNote removes a note. Deleting an absent id is not an error.
func (s *Store) DeleteNote(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&Note{}, "id = ?", id).Error
}
