// Package reachability defines how the engine learns whether the backend is
// reachable. A Source reports the current belief and notifies subscribers on
// transitions; the coordinator wires those transitions into sync flushes and
// download resumption. Implementations live in the manual and probe
// subpackages.
package reachability

import "sync"

// State is a connectivity belief.
type State string

const (
	StateOnline  State = "online"
	StateOffline State = "offline"
)

// StateFor converts a boolean connectivity flag to a State.
func StateFor(online bool) State {
	if online {
		return StateOnline
	}
	return StateOffline
}

// IsOnline reports whether the state means the backend is reachable.
func (s State) IsOnline() bool {
	return s == StateOnline
}

// Source reports backend connectivity.
type Source interface {
	// Online returns the current belief.
	Online() bool

	// Subscribe registers for transition notifications. The returned cancel
	// func unregisters and closes the channel.
	Subscribe() (<-chan State, func())
}

// Notifier implements the subscriber bookkeeping a Source needs. The zero
// value is ready to use.
type Notifier struct {
	mu   sync.Mutex
	subs map[int]chan State
	next int
}

// Subscribe registers a listener channel.
func (n *Notifier) Subscribe() (<-chan State, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subs == nil {
		n.subs = make(map[int]chan State)
	}
	id := n.next
	n.next++
	ch := make(chan State, 1)
	n.subs[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers a transition to every subscriber. A slow consumer sees
// only the latest state: intermediate flaps carry no information it still
// needs, so the stale value is replaced rather than queued behind.
func (n *Notifier) Publish(s State) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}
