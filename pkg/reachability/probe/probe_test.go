package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxbiblia/ark/pkg/reachability"
)

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestObserve_DebouncesFlaps(t *testing.T) {
	m, err := New(Config{URL: "http://backend.invalid/health", Threshold: 2})
	require.NoError(t, err)

	// One bad probe is noise, not a transition.
	assert.False(t, m.observe(false))
	assert.True(t, m.Online())

	// A good probe in between resets the streak.
	assert.False(t, m.observe(true))
	assert.False(t, m.observe(false))
	assert.True(t, m.Online())

	// Two consecutive bad probes flip the belief.
	assert.True(t, m.observe(false))
	assert.False(t, m.Online())

	// Recovery is debounced the same way.
	assert.False(t, m.observe(true))
	assert.False(t, m.Online())
	assert.True(t, m.observe(true))
	assert.True(t, m.Online())
}

func TestMonitor_DetectsLostBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	m, err := New(Config{URL: srv.URL, Interval: 5 * time.Millisecond, Threshold: 2})
	require.NoError(t, err)

	ch, cancel := m.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	m.Start(ctx)
	defer m.Close()

	// The backend answers, so the belief holds.
	time.Sleep(25 * time.Millisecond)
	require.True(t, m.Online())

	srv.Close()

	require.Eventually(t, func() bool { return !m.Online() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, reachability.StateOffline, <-ch)
}

func TestMonitor_AnyResponseCountsAsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	m, err := New(Config{URL: srv.URL, Interval: 5 * time.Millisecond, Threshold: 2})
	require.NoError(t, err)

	m.Start(context.Background())
	defer m.Close()

	// An unhealthy backend is still a reachable one.
	require.Never(t, func() bool { return !m.Online() }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestClose_IsIdempotent(t *testing.T) {
	m, err := New(Config{URL: "http://backend.invalid/health", Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	m.Start(context.Background())
	m.Close()
	m.Close()
}
