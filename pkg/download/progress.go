package download

import "github.com/voxbiblia/ark/pkg/content"

// Event is a point-in-time snapshot of one task, published on every state
// change and after every received chunk.
type Event struct {
	TaskID        string
	Key           content.Key
	State         State
	BytesReceived int64
	BytesExpected int64
	Err           string
}

func eventFor(t *Task) Event {
	return Event{
		TaskID:        t.ID,
		Key:           t.Key,
		State:         t.State,
		BytesReceived: t.BytesReceived,
		BytesExpected: t.BytesExpected,
		Err:           t.LastError,
	}
}

// Subscribe registers a progress listener. The returned cancel func
// unregisters it and closes the channel. The channel is buffered; a slow
// consumer loses events rather than blocking a transfer, so consumers that
// need exact state should read it back from Task.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan Event, 64)
	m.subs[id] = ch

	cancel := func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()
		if sub, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (m *Manager) emit(ev Event) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Manager) emitAll(events []Event) {
	for _, ev := range events {
		m.emit(ev)
	}
}
