package library

import (
	"context"
	"encoding/json"
	"fmt"
)

// Apply writes one mutation to the library by entity type. It is the single
// entry point the coordinator and the conflict resolver use, so optimistic
// local writes and remote write-backs go through identical code.
//
// For create and update the payload is the serialized entity; the entity id
// in the payload is overridden by entityID. For delete the payload is
// ignored and deleting an absent entity is not an error.
func (s *Store) Apply(ctx context.Context, entityType EntityType, opType OpType, entityID string, payload []byte) error {
	if !entityType.Valid() {
		return fmt.Errorf("library: unknown entity type %q", entityType)
	}
	if !opType.Valid() {
		return fmt.Errorf("library: unknown op type %q", opType)
	}

	if opType == OpDelete {
		switch entityType {
		case EntityBookmark:
			return s.DeleteBookmark(ctx, entityID)
		case EntityHighlight:
			return s.DeleteHighlight(ctx, entityID)
		case EntityNote:
			return s.DeleteNote(ctx, entityID)
		case EntitySetting:
			return s.DeleteSetting(ctx, entityID)
		case EntityReadingProgress:
			return s.DeleteProgress(ctx, entityID)
		}
	}

	switch entityType {
	case EntityBookmark:
		var b Bookmark
		if err := json.Unmarshal(payload, &b); err != nil {
			return fmt.Errorf("library: decode bookmark %s: %w", entityID, err)
		}
		b.ID = entityID
		return s.SaveBookmark(ctx, &b)
	case EntityHighlight:
		var h Highlight
		if err := json.Unmarshal(payload, &h); err != nil {
			return fmt.Errorf("library: decode highlight %s: %w", entityID, err)
		}
		h.ID = entityID
		return s.SaveHighlight(ctx, &h)
	case EntityNote:
		var n Note
		if err := json.Unmarshal(payload, &n); err != nil {
			return fmt.Errorf("library: decode note %s: %w", entityID, err)
		}
		n.ID = entityID
		return s.SaveNote(ctx, &n)
	case EntitySetting:
		var st Setting
		if err := json.Unmarshal(payload, &st); err != nil {
			return fmt.Errorf("library: decode setting %s: %w", entityID, err)
		}
		st.Key = entityID
		return s.SetSetting(ctx, &st)
	case EntityReadingProgress:
		var p ReadingProgress
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("library: decode reading progress %s: %w", entityID, err)
		}
		p.ID = entityID
		return s.SaveProgress(ctx, &p)
	}
	return fmt.Errorf("library: unknown entity type %q", entityType)
}

// Snapshot returns the current serialized state of one entity, or ErrNotFound.
// The conflict resolver uses it to see what a remote write-back replaced.
func (s *Store) Snapshot(ctx context.Context, entityType EntityType, entityID string) ([]byte, error) {
	var (
		entity any
		err    error
	)
	switch entityType {
	case EntityBookmark:
		entity, err = s.Bookmark(ctx, entityID)
	case EntityHighlight:
		entity, err = s.Highlight(ctx, entityID)
	case EntityNote:
		entity, err = s.Note(ctx, entityID)
	case EntitySetting:
		entity, err = s.Setting(ctx, entityID)
	case EntityReadingProgress:
		entity, err = s.Progress(ctx, entityID)
	default:
		return nil, fmt.Errorf("library: unknown entity type %q", entityType)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(entity)
}
