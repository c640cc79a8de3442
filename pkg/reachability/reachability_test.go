package reachability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateFor(t *testing.T) {
	assert.Equal(t, StateOnline, StateFor(true))
	assert.Equal(t, StateOffline, StateFor(false))
	assert.True(t, StateOnline.IsOnline())
	assert.False(t, StateOffline.IsOnline())
}

func TestNotifier_DeliversToEverySubscriber(t *testing.T) {
	var n Notifier

	a, cancelA := n.Subscribe()
	defer cancelA()
	b, cancelB := n.Subscribe()
	defer cancelB()

	n.Publish(StateOffline)

	assert.Equal(t, StateOffline, <-a)
	assert.Equal(t, StateOffline, <-b)
}

func TestNotifier_SlowConsumerSeesLatestState(t *testing.T) {
	var n Notifier

	ch, cancel := n.Subscribe()
	defer cancel()

	// Nobody reads between these, so the first transition is stale by the
	// time the consumer looks.
	n.Publish(StateOffline)
	n.Publish(StateOnline)

	require.Equal(t, StateOnline, <-ch)
	select {
	case s := <-ch:
		t.Fatalf("unexpected buffered state %q", s)
	default:
	}
}

func TestNotifier_CancelClosesChannel(t *testing.T) {
	var n Notifier

	ch, cancel := n.Subscribe()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after cancel must not panic on the closed channel.
	n.Publish(StateOffline)
	cancel()
}
