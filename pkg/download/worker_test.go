package download

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxbiblia/ark/pkg/content"
	"github.com/voxbiblia/ark/pkg/remote"
	"github.com/voxbiblia/ark/pkg/store/kv"
)

func TestTransfer_ChunksUntilComplete(t *testing.T) {
	env := newDownloadEnv(t)
	key := content.TextKey("genesis", 1, "kjv")
	payload := []byte("ten chars!")
	env.source.set(key, payload)

	ids, err := env.mgr.RequestOffline(context.Background(), []content.Key{key})
	require.NoError(t, err)
	env.runPass()

	calls := env.source.ranges()
	require.Len(t, calls, 3)
	assert.Equal(t, rangeCall{key: key.String(), offset: 0, length: 4}, calls[0])
	assert.Equal(t, rangeCall{key: key.String(), offset: 4, length: 4}, calls[1])
	assert.Equal(t, rangeCall{key: key.String(), offset: 8, length: 2}, calls[2])

	task := env.task(t, key)
	assert.Equal(t, StateCompleted, task.State)
	assert.Equal(t, int64(len(payload)), task.BytesReceived)
	assert.Equal(t, int64(len(payload)), task.BytesExpected)

	got, _, err := env.cache.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = env.store.Get(context.Background(), partialPrefix+ids[0])
	assert.True(t, kv.IsNotFound(err), "a finished transfer leaves no partial payload behind")
}

func TestTransfer_UnknownSizeFallsBackToSingleFetch(t *testing.T) {
	env := newDownloadEnv(t)
	key := content.AudioKey("psalms", 23, "narrator-a", "high")
	payload := []byte("the lord is my shepherd")
	env.source.set(key, payload)
	env.source.sizeFn = func(ctx context.Context, key content.Key) (int64, error) {
		return 0, errors.New("size reporting unsupported")
	}

	_, err := env.mgr.RequestOffline(context.Background(), []content.Key{key})
	require.NoError(t, err)
	env.runPass()

	assert.Equal(t, StateCompleted, env.task(t, key).State)
	assert.Equal(t, 1, env.source.fetchCalls)
	assert.Empty(t, env.source.ranges())

	got, _, err := env.cache.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestTransfer_NotFoundFailsWithoutRetry(t *testing.T) {
	env := newDownloadEnv(t)
	key := content.TextKey("enoch", 1, "kjv")

	_, err := env.mgr.RequestOffline(context.Background(), []content.Key{key})
	require.NoError(t, err)
	env.runPass()

	task := env.task(t, key)
	assert.Equal(t, StateFailed, task.State)
	assert.Contains(t, task.LastError, "not found")
	assert.Equal(t, 1, task.Attempt)
	assert.Zero(t, env.source.fetchCalls)
	assert.Empty(t, env.source.ranges())
}

func TestTransfer_TransientFailureSchedulesBackoff(t *testing.T) {
	env := newDownloadEnv(t)
	key := content.TextKey("genesis", 1, "kjv")
	env.source.set(key, []byte("ten chars!"))

	var calls atomic.Int32
	env.source.rangeFn = func(ctx context.Context, key content.Key, offset, length int64) ([]byte, error) {
		if calls.Add(1) == 2 {
			return nil, remote.Transient(errors.New("connection reset"))
		}
		return env.source.slice(key, offset, length)
	}

	start := env.clock.Now()
	_, err := env.mgr.RequestOffline(context.Background(), []content.Key{key})
	require.NoError(t, err)
	env.runPass()

	task := env.task(t, key)
	require.Equal(t, StateQueued, task.State)
	assert.Equal(t, 1, task.Attempt)
	assert.Equal(t, start.Add(time.Second), task.NextRetryAt)
	assert.Contains(t, task.LastError, "connection reset")
	assert.Equal(t, int64(4), task.BytesReceived, "the delivered chunk survives the failure")

	// Not due yet, so dispatch leaves it alone.
	env.runPass()
	require.Len(t, env.source.ranges(), 2)

	env.clock.Advance(time.Second)
	env.runPass()

	calls2 := env.source.ranges()
	require.Len(t, calls2, 4)
	assert.Equal(t, int64(4), calls2[2].offset, "the retry continues from the received bytes")
	assert.Equal(t, StateCompleted, env.task(t, key).State)
}

func TestTransfer_RetriesExhaustedFailTask(t *testing.T) {
	env := newDownloadEnv(t)
	env.cfg.MaxAttempts = 2
	env.mgr.Stop(time.Second)
	env.open(t)

	key := content.TextKey("exodus", 3, "kjv")
	env.source.set(key, []byte("burning bush"))
	env.source.rangeFn = func(ctx context.Context, key content.Key, offset, length int64) ([]byte, error) {
		return nil, remote.Transient(errors.New("gateway timeout"))
	}

	ids, err := env.mgr.RequestOffline(context.Background(), []content.Key{key})
	require.NoError(t, err)

	env.runPass()
	require.Equal(t, StateQueued, env.task(t, key).State)
	env.clock.Advance(time.Second)
	env.runPass()

	task := env.task(t, key)
	assert.Equal(t, StateFailed, task.State)
	assert.Contains(t, task.LastError, "retries exhausted after 2 attempts")
	assert.Contains(t, task.LastError, "gateway timeout")

	// The record stays for reporting; the partial payload does not.
	_, err = env.store.Get(context.Background(), partialPrefix+ids[0])
	assert.True(t, kv.IsNotFound(err))
}

func TestTransfer_ShortContentFailsPermanently(t *testing.T) {
	env := newDownloadEnv(t)
	key := content.TextKey("numbers", 1, "kjv")
	env.source.set(key, []byte("ten chars!"))
	env.source.sizeFn = func(ctx context.Context, key content.Key) (int64, error) {
		return 20, nil
	}

	_, err := env.mgr.RequestOffline(context.Background(), []content.Key{key})
	require.NoError(t, err)
	env.runPass()

	task := env.task(t, key)
	assert.Equal(t, StateFailed, task.State)
	assert.Contains(t, task.LastError, "ended at 10 bytes, expected 20")
}

func TestTransfer_QuotaDeniedFailsTask(t *testing.T) {
	env := newDownloadEnv(t)
	env.quotaBytes = 8
	env.mgr.Stop(time.Second)
	env.open(t)

	key := content.AudioKey("psalms", 119, "narrator-a", "high")
	env.source.set(key, []byte("longest psalm"))

	ids, err := env.mgr.RequestOffline(context.Background(), []content.Key{key})
	require.NoError(t, err)
	env.runPass()

	task := env.task(t, key)
	assert.Equal(t, StateFailed, task.State)
	assert.Contains(t, task.LastError, "quota denied")
	assert.False(t, env.cache.Contains(key))

	_, err = env.store.Get(context.Background(), partialPrefix+ids[0])
	assert.True(t, kv.IsNotFound(err))
}

func TestTransfer_OfflineMidTransferPauses(t *testing.T) {
	env := newDownloadEnv(t)
	key := content.TextKey("jonah", 2, "kjv")
	env.source.set(key, []byte("out of the belly"))

	var calls atomic.Int32
	env.source.rangeFn = func(ctx context.Context, key content.Key, offset, length int64) ([]byte, error) {
		if calls.Add(1) == 2 {
			// Connectivity drops mid-transfer. The manager cancels the
			// worker, which parks the task instead of burning an attempt.
			env.mgr.SetOnline(false)
			return nil, ctx.Err()
		}
		return env.source.slice(key, offset, length)
	}

	_, err := env.mgr.RequestOffline(context.Background(), []content.Key{key})
	require.NoError(t, err)
	env.runPass()

	task := env.task(t, key)
	assert.Equal(t, StatePaused, task.State)
	assert.Zero(t, task.Attempt)
	assert.Equal(t, int64(4), task.BytesReceived)

	env.source.rangeFn = nil
	env.mgr.SetOnline(true)
	require.Equal(t, StateQueued, env.task(t, key).State)
	env.runPass()

	calls2 := env.source.ranges()
	assert.Equal(t, int64(4), calls2[2].offset, "the resumed transfer continues from the paused offset")
	assert.Equal(t, StateCompleted, env.task(t, key).State)
}

func TestStop_RequeuesRunningTask(t *testing.T) {
	env := newDownloadEnv(t)
	key := content.TextKey("daniel", 6, "kjv")
	payload := []byte("den of lions")
	env.source.set(key, payload)

	var calls atomic.Int32
	env.source.rangeFn = func(ctx context.Context, key content.Key, offset, length int64) ([]byte, error) {
		if calls.Add(1) >= 2 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return env.source.slice(key, offset, length)
	}

	_, err := env.mgr.RequestOffline(context.Background(), []content.Key{key})
	require.NoError(t, err)
	env.mgr.dispatchOnce()
	require.Eventually(t, func() bool {
		return len(env.source.ranges()) >= 2
	}, 2*time.Second, 2*time.Millisecond)

	env.mgr.Stop(2 * time.Second)

	task := env.task(t, key)
	assert.Equal(t, StateQueued, task.State, "shutdown requeues instead of failing")
	assert.Equal(t, int64(4), task.BytesReceived)

	env.source.rangeFn = nil
	env.open(t)
	env.runPass()

	assert.Equal(t, StateCompleted, env.task(t, key).State)
	got, _, err := env.cache.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestCancel_MidTransferDiscardsSilently(t *testing.T) {
	env := newDownloadEnv(t)
	key := content.TextKey("esther", 4, "kjv")
	env.source.set(key, []byte("for such a time"))

	var calls atomic.Int32
	env.source.rangeFn = func(ctx context.Context, key content.Key, offset, length int64) ([]byte, error) {
		if calls.Add(1) >= 2 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return env.source.slice(key, offset, length)
	}

	ids, err := env.mgr.RequestOffline(context.Background(), []content.Key{key})
	require.NoError(t, err)
	env.mgr.dispatchOnce()
	require.Eventually(t, func() bool {
		return len(env.source.ranges()) >= 2
	}, 2*time.Second, 2*time.Millisecond)

	require.NoError(t, env.mgr.Cancel(context.Background(), ids[0]))
	env.mgr.wg.Wait()

	_, ok := env.mgr.Task(key)
	assert.False(t, ok)
	assert.False(t, env.cache.Contains(key))
	_, err = env.store.Get(context.Background(), taskPrefix+ids[0])
	assert.True(t, kv.IsNotFound(err))
	_, err = env.store.Get(context.Background(), partialPrefix+ids[0])
	assert.True(t, kv.IsNotFound(err))
}

func TestDispatch_HonorsConcurrencyCap(t *testing.T) {
	env := newDownloadEnv(t)
	env.cfg.Concurrency = 1
	env.mgr.Stop(time.Second)
	env.open(t)

	first := content.TextKey("matthew", 5, "kjv")
	second := content.TextKey("matthew", 6, "kjv")
	env.source.set(first, []byte("blessed are"))
	env.source.set(second, []byte("our father"))

	gate := make(chan struct{})
	env.source.rangeFn = func(ctx context.Context, key content.Key, offset, length int64) ([]byte, error) {
		select {
		case <-gate:
			return env.source.slice(key, offset, length)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	_, err := env.mgr.RequestOffline(context.Background(), []content.Key{first})
	require.NoError(t, err)
	env.clock.Advance(time.Millisecond)
	_, err = env.mgr.RequestOffline(context.Background(), []content.Key{second})
	require.NoError(t, err)

	env.mgr.dispatchOnce()
	counts := env.mgr.Counts()
	require.Equal(t, 1, counts[StateDownloading])
	require.Equal(t, 1, counts[StateQueued])
	assert.Equal(t, StateDownloading, env.task(t, first).State, "claims go in request order")

	// A second dispatch cannot overcommit the pool.
	env.mgr.dispatchOnce()
	counts = env.mgr.Counts()
	require.Equal(t, 1, counts[StateDownloading])

	close(gate)
	env.mgr.wg.Wait()
	assert.Equal(t, StateCompleted, env.task(t, first).State)
	assert.Equal(t, StateQueued, env.task(t, second).State)

	env.runPass()
	assert.Equal(t, StateCompleted, env.task(t, second).State)
}

func TestTransfer_ProgressGrowsMonotonically(t *testing.T) {
	env := newDownloadEnv(t)
	key := content.TextKey("john", 11, "kjv")
	env.source.set(key, []byte("jesus wept"))

	events, cancel := env.mgr.Subscribe()
	defer cancel()

	_, err := env.mgr.RequestOffline(context.Background(), []content.Key{key})
	require.NoError(t, err)
	env.runPass()

	var received []int64
drain:
	for {
		select {
		case ev := <-events:
			if ev.State == StateDownloading && ev.BytesReceived > 0 {
				received = append(received, ev.BytesReceived)
			}
		default:
			break drain
		}
	}
	assert.Equal(t, []int64{4, 8, 10}, received)
}
