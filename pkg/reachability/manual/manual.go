// Package manual provides a reachability source driven by explicit
// SetOnline calls, for hosts that already know their connectivity (a mobile
// shell with OS-level network callbacks) and for tests.
package manual

import (
	"sync"

	"github.com/voxbiblia/ark/pkg/reachability"
)

// Source is an externally driven reachability source.
type Source struct {
	mu       sync.Mutex
	online   bool
	notifier reachability.Notifier
}

// New creates a source with the given initial belief.
func New(online bool) *Source {
	return &Source{online: online}
}

// Online returns the current belief.
func (s *Source) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SetOnline records the new belief and notifies subscribers if it changed.
func (s *Source) SetOnline(online bool) {
	s.mu.Lock()
	changed := s.online != online
	s.online = online
	s.mu.Unlock()

	if changed {
		s.notifier.Publish(reachability.StateFor(online))
	}
}

// Subscribe registers for transition notifications.
func (s *Source) Subscribe() (<-chan reachability.State, func()) {
	return s.notifier.Subscribe()
}

var _ reachability.Source = (*Source)(nil)
