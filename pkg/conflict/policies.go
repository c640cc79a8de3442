package conflict

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/voxbiblia/ark/pkg/library"
	"github.com/voxbiblia/ark/pkg/remote"
)

// forkNamespace scopes the deterministic ids of forked entities. Deriving
// the fork id from the losing operation id keeps Resolve a pure function
// and makes replayed resolutions converge on the same entity.
var forkNamespace = uuid.MustParse("8e6f41d2-30a5-47c4-9f27-2a8c4d1b5f6e")

func forkID(operationID string) string {
	return uuid.NewSHA1(forkNamespace, []byte("note-fork:"+operationID)).String()
}

// resolveNote applies last-write-wins with one exception: user-authored text
// on the losing side is never silently destroyed.
func (r *Resolver) resolveNote(local remote.SyncOperation, remoteState remote.EntityState) (Resolution, error) {
	// A delete op carries no payload and no text worth preserving.
	if local.OpType == library.OpDelete {
		return r.resolveLWW(local, remoteState), nil
	}

	var localNote library.Note
	if err := json.Unmarshal(local.Payload, &localNote); err != nil {
		return Resolution{}, fmt.Errorf("conflict: decode local note %s: %w", local.EntityID, err)
	}
	localText := strings.TrimSpace(localNote.Text)

	var remoteText string
	if !remoteState.Deleted && len(remoteState.Payload) > 0 {
		var remoteNote library.Note
		if err := json.Unmarshal(remoteState.Payload, &remoteNote); err != nil {
			return Resolution{}, fmt.Errorf("conflict: decode remote note %s: %w", local.EntityID, err)
		}
		remoteText = strings.TrimSpace(remoteNote.Text)
	}

	// Without local text there is nothing to protect; plain policy applies.
	if localText == "" {
		return r.resolveLWW(local, remoteState), nil
	}

	// Identical texts mean the disagreement is metadata only.
	if localText == remoteText {
		return r.resolveLWW(local, remoteState), nil
	}

	// Local has text the remote side lacks entirely: the local edit wins
	// outright, whatever the timestamps say.
	if remoteText == "" && !remoteState.Deleted {
		return Resolution{Outcome: OutcomeApplyLocal, Reason: "note:local-text-preserved"}, nil
	}

	// Both sides authored different text (or the remote deleted a note the
	// local side was still editing). The remote keeps the entity; the local
	// text survives as a new note under a deterministic id.
	fork := localNote
	fork.ID = forkID(local.ID)
	payload, err := json.Marshal(fork)
	if err != nil {
		return Resolution{}, fmt.Errorf("conflict: encode forked note: %w", err)
	}

	reason := "note:fork-both-texts"
	if remoteState.Deleted {
		reason = "note:fork-remote-deleted"
	}
	return Resolution{
		Outcome:      OutcomeMerge,
		Reason:       reason,
		ForkEntityID: fork.ID,
		ForkPayload:  payload,
	}, nil
}

// resolveProgress keeps the furthest reading position. The marker comparison
// is (percent, chapter, verse) lexicographic so equal percentages still
// order by position.
func (r *Resolver) resolveProgress(local remote.SyncOperation, remoteState remote.EntityState) (Resolution, error) {
	// Deleting a progress marker falls back to plain policy.
	if local.OpType == library.OpDelete || remoteState.Deleted {
		return r.resolveLWW(local, remoteState), nil
	}

	var localProgress, remoteProgress library.ReadingProgress
	if err := json.Unmarshal(local.Payload, &localProgress); err != nil {
		return Resolution{}, fmt.Errorf("conflict: decode local progress %s: %w", local.EntityID, err)
	}
	if err := json.Unmarshal(remoteState.Payload, &remoteProgress); err != nil {
		return Resolution{}, fmt.Errorf("conflict: decode remote progress %s: %w", local.EntityID, err)
	}

	if progressAhead(localProgress, remoteProgress) {
		return Resolution{Outcome: OutcomeApplyLocal, Reason: "progress:local-ahead"}, nil
	}
	return Resolution{Outcome: OutcomeDiscardLocal, Reason: "progress:remote-ahead"}, nil
}

// progressAhead reports whether a is strictly further along than b.
func progressAhead(a, b library.ReadingProgress) bool {
	if a.Percent != b.Percent {
		return a.Percent > b.Percent
	}
	if a.Chapter != b.Chapter {
		return a.Chapter > b.Chapter
	}
	return a.Verse > b.Verse
}
