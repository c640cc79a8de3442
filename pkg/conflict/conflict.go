// Package conflict decides what happens when the backend rejects a local
// mutation because remote state moved on. Resolution is pure policy: given
// the same local operation and remote snapshot the verdict is always the
// same, with no randomness and no wall-clock reads. Even the forked note id
// is derived deterministically from the losing operation id.
//
// Policy by entity type:
//   - setting, bookmark, highlight: last-write-wins on the entity's field
//     set, comparing the operation's createdAt against the remote updatedAt.
//   - note: last-write-wins, except user-authored text is never silently
//     destroyed. When both sides hold different non-empty texts the entity
//     is forked: the remote version keeps the entity, the local text
//     survives as a new note.
//   - readingProgress: the furthest marker wins; progress never regresses.
//
// Timestamp ties break on source id, lexically higher wins.
package conflict

import (
	"time"

	"github.com/voxbiblia/ark/pkg/library"
	"github.com/voxbiblia/ark/pkg/remote"
)

// Outcome is the resolver's verdict on a conflicted operation.
type Outcome int

const (
	// OutcomeApplyLocal means the local change wins: the sync queue
	// re-submits it as a corrective operation rebased on the remote state.
	OutcomeApplyLocal Outcome = iota + 1
	// OutcomeDiscardLocal means the remote state wins: the local operation
	// is dropped and the remote snapshot is written back to the library.
	OutcomeDiscardLocal
	// OutcomeMerge means both sides survive: the remote state keeps the
	// entity and the resolution carries a forked entity preserving the
	// local content, to be stored and enqueued as a create.
	OutcomeMerge
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeApplyLocal:
		return "applyLocal"
	case OutcomeDiscardLocal:
		return "discardLocal"
	case OutcomeMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// Resolution is the resolver's full answer for one conflicted operation.
type Resolution struct {
	Outcome Outcome

	// Reason names the policy branch that produced the outcome, e.g.
	// "lww:local-newer" or "note:fork-both-texts". For logs and records.
	Reason string

	// ForkEntityID and ForkPayload describe the new entity created by a
	// merge. Set only when Outcome is OutcomeMerge.
	ForkEntityID string
	ForkPayload  []byte
}

// Record captures one resolved conflict for later inspection. The sync queue
// keeps a bounded history of these so the application can disclose merges to
// the user.
type Record struct {
	OperationID string             `json:"operation_id"`
	EntityType  library.EntityType `json:"entity_type"`
	EntityID    string             `json:"entity_id"`
	Outcome     string             `json:"outcome"`
	Reason      string             `json:"reason"`
	ResolvedAt  time.Time          `json:"resolved_at"`
}

// Resolver applies per-entity-type conflict policy.
type Resolver struct {
	// sourceID identifies this device in timestamp tiebreaks, compared
	// lexically against the remote state's source id.
	sourceID string
}

// NewResolver creates a resolver that breaks ties with the given source id.
func NewResolver(sourceID string) *Resolver {
	return &Resolver{sourceID: sourceID}
}

// Resolve decides the fate of a conflicted local operation. The returned
// error is reserved for undecodable payloads; policy never errors.
func (r *Resolver) Resolve(local remote.SyncOperation, remoteState remote.EntityState) (Resolution, error) {
	switch local.EntityType {
	case library.EntityNote:
		return r.resolveNote(local, remoteState)
	case library.EntityReadingProgress:
		return r.resolveProgress(local, remoteState)
	default:
		return r.resolveLWW(local, remoteState), nil
	}
}

// resolveLWW is whole-field-set last-write-wins: the operation's createdAt
// against the remote updatedAt, source id deciding exact ties.
func (r *Resolver) resolveLWW(local remote.SyncOperation, remoteState remote.EntityState) Resolution {
	switch {
	case local.CreatedAt.After(remoteState.UpdatedAt):
		return Resolution{Outcome: OutcomeApplyLocal, Reason: "lww:local-newer"}
	case local.CreatedAt.Before(remoteState.UpdatedAt):
		return Resolution{Outcome: OutcomeDiscardLocal, Reason: "lww:remote-newer"}
	case r.sourceID > remoteState.SourceID:
		return Resolution{Outcome: OutcomeApplyLocal, Reason: "lww:tie-source-local"}
	default:
		return Resolution{Outcome: OutcomeDiscardLocal, Reason: "lww:tie-source-remote"}
	}
}
