package library

import "time"

// EntityType identifies a syncable entity kind.
type EntityType string

const (
	EntityBookmark        EntityType = "bookmark"
	EntityHighlight       EntityType = "highlight"
	EntityNote            EntityType = "note"
	EntitySetting         EntityType = "setting"
	EntityReadingProgress EntityType = "readingProgress"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityBookmark, EntityHighlight, EntityNote, EntitySetting, EntityReadingProgress:
		return true
	}
	return false
}

// OpType identifies a mutation kind.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Valid reports whether t is a known mutation kind.
func (t OpType) Valid() bool {
	switch t {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// HighlightStyle is the rendering style of a highlight.
type HighlightStyle string

const (
	HighlightStyleHighlight HighlightStyle = "highlight"
	HighlightStyleUnderline HighlightStyle = "underline"
)

// Bookmark marks a single verse.
type Bookmark struct {
	ID          string `gorm:"primaryKey;size:64" json:"id"`
	Book        string `gorm:"index:idx_bookmarks_ref;size:64" json:"book"`
	Chapter     int    `gorm:"index:idx_bookmarks_ref" json:"chapter"`
	Verse       int    `gorm:"index:idx_bookmarks_ref" json:"verse"`
	Translation string `gorm:"size:16" json:"translation,omitempty"`
	Label       string `gorm:"size:256" json:"label,omitempty"`
	Color       string `gorm:"size:10" json:"color,omitempty"` // Hex color code

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Highlight marks a verse range within a chapter.
type Highlight struct {
	ID          string `gorm:"primaryKey;size:64" json:"id"`
	Book        string `gorm:"index:idx_highlights_ref;size:64" json:"book"`
	Chapter     int    `gorm:"index:idx_highlights_ref" json:"chapter"`
	VerseStart  int    `json:"verse_start"`
	VerseEnd    int    `json:"verse_end"`
	Translation string `gorm:"size:16" json:"translation,omitempty"`

	Color string         `gorm:"size:10" json:"color,omitempty"`
	Style HighlightStyle `gorm:"size:20;default:'highlight'" json:"style,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Note is free text attached to a verse.
type Note struct {
	ID      string `gorm:"primaryKey;size:64" json:"id"`
	Book    string `gorm:"index:idx_notes_ref;size:64" json:"book"`
	Chapter int    `gorm:"index:idx_notes_ref" json:"chapter"`
	Verse   int    `gorm:"index:idx_notes_ref" json:"verse"`
	Text    string `gorm:"type:text" json:"text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Setting is a single user preference. The key doubles as the entity id.
type Setting struct {
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReadingProgress tracks how far the reader has advanced. The marker is
// monotonic: conflict resolution always keeps the furthest position.
type ReadingProgress struct {
	ID          string  `gorm:"primaryKey;size:64" json:"id"`
	Book        string  `gorm:"size:64" json:"book"`
	Chapter     int     `json:"chapter"`
	Verse       int     `json:"verse"`
	Percent     float64 `json:"percent"` // 0.0-1.0 through the book
	Translation string  `gorm:"size:16" json:"translation,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

func (Bookmark) TableName() string        { return "bookmarks" }
func (Highlight) TableName() string       { return "highlights" }
func (Note) TableName() string            { return "notes" }
func (Setting) TableName() string         { return "settings" }
func (ReadingProgress) TableName() string { return "reading_progress" }

// AllModels returns every model the store migrates.
func AllModels() []any {
	return []any{
		&Bookmark{},
		&Highlight{},
		&Note{},
		&Setting{},
		&ReadingProgress{},
	}
}
