// Package remote defines the contracts Ark uses to reach the backend: a
// ContentSource that serves scripture payloads and a SyncService that accepts
// annotation mutations. Implementations live in the http and s3 subpackages;
// everything above this package (cache, download manager, sync queue) depends
// only on these interfaces.
package remote

import (
	"context"
	"encoding/json"
	"time"

	"github.com/voxbiblia/ark/pkg/content"
	"github.com/voxbiblia/ark/pkg/library"
)

// ContentSource fetches scripture payloads (chapter text, audio segments)
// from a backend.
type ContentSource interface {
	// Fetch downloads the whole payload for key. Returns ErrNotFound if the
	// backend has no such content.
	Fetch(ctx context.Context, key content.Key) ([]byte, error)

	// FetchRange downloads bytes [offset, offset+length) of the payload.
	// A range that extends past the end of the content returns the available
	// suffix, which may be shorter than length.
	FetchRange(ctx context.Context, key content.Key, offset, length int64) ([]byte, error)

	// ContentSize reports the total payload size without downloading it.
	ContentSize(ctx context.Context, key content.Key) (int64, error)
}

// SyncOperation is the wire form of one annotation mutation. The ID is the
// client-generated idempotency key: replaying the same operation must yield
// AlreadyApplied, never a duplicate.
type SyncOperation struct {
	ID         string             `json:"id"`
	EntityType library.EntityType `json:"entity_type"`
	EntityID   string             `json:"entity_id"`
	OpType     library.OpType     `json:"op_type"`
	Payload    json.RawMessage    `json:"payload,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`

	// BaseUpdatedAt is the remote updatedAt this operation was derived
	// from. The backend raises a conflict when its state is newer than the
	// base; a corrective operation resubmitted after conflict resolution
	// carries the timestamp it rebased onto, which is what keeps a
	// resolved conflict from conflicting forever.
	BaseUpdatedAt *time.Time `json:"base_updated_at,omitempty"`
}

// EntityState is the backend's authoritative view of one entity, returned
// when an Apply is rejected as conflicting.
type EntityState struct {
	EntityType library.EntityType `json:"entity_type"`
	EntityID   string             `json:"entity_id"`
	Deleted    bool               `json:"deleted"`
	Payload    json.RawMessage    `json:"payload,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
	// SourceID identifies the device that produced the remote state. The
	// conflict resolver uses it as a deterministic tiebreaker.
	SourceID string `json:"source_id,omitempty"`
}

// ApplyOutcome classifies the backend's answer to one sync operation.
type ApplyOutcome int

const (
	// OutcomeApplied means the backend accepted and stored the mutation.
	OutcomeApplied ApplyOutcome = iota + 1
	// OutcomeAlreadyApplied means the backend had already seen this
	// operation id. The caller treats it as success.
	OutcomeAlreadyApplied
	// OutcomeConflict means the backend holds newer state for the entity.
	// The result carries that state for the resolver.
	OutcomeConflict
)

// String returns a human-readable representation of the outcome.
func (o ApplyOutcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeAlreadyApplied:
		return "alreadyApplied"
	case OutcomeConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// ApplyResult is the backend's answer to one sync operation.
type ApplyResult struct {
	Outcome ApplyOutcome
	// Remote is the backend's current entity state. Set only when Outcome
	// is OutcomeConflict.
	Remote *EntityState
}

// SyncService pushes annotation mutations to the backend.
type SyncService interface {
	// Apply submits one operation. A Conflict outcome is not an error: the
	// error return is reserved for transport and protocol failures.
	Apply(ctx context.Context, op SyncOperation) (ApplyResult, error)
}
