package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxbiblia/ark/pkg/content"
	"github.com/voxbiblia/ark/pkg/quota"
	"github.com/voxbiblia/ark/pkg/store/kv/memory"
)

// newTestCache builds a cache over a fresh in-memory store with a fixed
// logical clock the test can advance.
func newTestCache(t *testing.T, maxBytes int64, cfgFn func(*Config)) (*Cache, *memory.Store, *time.Time) {
	t.Helper()

	store := memory.New()
	cfg := Config{
		Store: store,
		Quota: quota.NewManager(maxBytes),
	}
	if cfgFn != nil {
		cfgFn(&cfg)
	}

	c, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	return c, store, &clock
}

func textKey(book string, chapter int) content.Key {
	return content.TextKey(book, chapter, "kjv")
}

func TestGet_MissOnEmptyCache(t *testing.T) {
	c, _, _ := newTestCache(t, 0, nil)

	payload, ok, err := c.Get(context.Background(), textKey("john", 3))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected miss on empty cache")
	}
	if payload != nil {
		t.Errorf("expected nil payload on miss, got %d bytes", len(payload))
	}
}

func TestPutGet_RoundTrip(t *testing.T) {
	c, _, _ := newTestCache(t, 0, nil)
	ctx := context.Background()
	key := textKey("john", 3)
	want := []byte("for God so loved the world")

	if err := c.Put(ctx, key, want, PutOptions{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got) != string(want) {
		t.Errorf("payload = %q, want %q", got, want)
	}

	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
	if c.UsedBytes() != int64(len(want)) {
		t.Errorf("UsedBytes = %d, want %d", c.UsedBytes(), len(want))
	}
}

func TestGet_RefreshesRecency(t *testing.T) {
	c, _, clock := newTestCache(t, 0, nil)
	ctx := context.Background()
	key := textKey("john", 3)

	if err := c.Put(ctx, key, []byte("x"), PutOptions{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	*clock = clock.Add(time.Hour)
	if _, _, err := c.Get(ctx, key); err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	ent, ok := c.Entry(key)
	if !ok {
		t.Fatal("entry should exist")
	}
	if !ent.LastAccessedAt.Equal(*clock) {
		t.Errorf("LastAccessedAt = %v, want %v", ent.LastAccessedAt, *clock)
	}
	if !ent.StoredAt.Equal(clock.Add(-time.Hour)) {
		t.Errorf("StoredAt should not move on access")
	}
}

func TestPut_ReplaceAccountsDelta(t *testing.T) {
	c, _, _ := newTestCache(t, 1000, nil)
	ctx := context.Background()
	key := textKey("john", 3)

	if err := c.Put(ctx, key, make([]byte, 400), PutOptions{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Put(ctx, key, make([]byte, 100), PutOptions{}); err != nil {
		t.Fatalf("replace Put failed: %v", err)
	}

	if c.UsedBytes() != 100 {
		t.Errorf("UsedBytes after replace = %d, want 100", c.UsedBytes())
	}
	if c.Len() != 1 {
		t.Errorf("Len after replace = %d, want 1", c.Len())
	}
}

func TestTTL_ExpiredEntryIsMissAndReclaimed(t *testing.T) {
	c, _, clock := newTestCache(t, 0, nil)
	ctx := context.Background()
	key := textKey("psalms", 23)

	if err := c.Put(ctx, key, []byte("the lord is my shepherd"), PutOptions{TTL: time.Minute}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	*clock = clock.Add(2 * time.Minute)

	_, ok, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expired entry should be a miss")
	}
	if c.UsedBytes() != 0 {
		t.Errorf("expired entry should be reclaimed, UsedBytes = %d", c.UsedBytes())
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
}

func TestTTL_DefaultAndOptOut(t *testing.T) {
	c, _, clock := newTestCache(t, 0, func(cfg *Config) {
		cfg.DefaultTTL = time.Hour
	})
	ctx := context.Background()

	defaulted := textKey("john", 1)
	forever := textKey("john", 2)

	if err := c.Put(ctx, defaulted, []byte("a"), PutOptions{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Put(ctx, forever, []byte("b"), PutOptions{TTL: -1}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	*clock = clock.Add(2 * time.Hour)

	if _, ok, _ := c.Get(ctx, defaulted); ok {
		t.Error("entry with default TTL should have expired")
	}
	if _, ok, _ := c.Get(ctx, forever); !ok {
		t.Error("entry stored with negative TTL should never expire")
	}
}

func TestGet_CorruptPayloadInvalidatedAndRefetched(t *testing.T) {
	c, store, _ := newTestCache(t, 0, nil)
	ctx := context.Background()
	key := textKey("john", 3)

	if err := c.Put(ctx, key, []byte("original payload"), PutOptions{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Corrupt the stored payload behind the cache's back
	if err := store.Put(ctx, payloadKey(key.String()), []byte("short")); err != nil {
		t.Fatalf("tamper failed: %v", err)
	}

	_, ok, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get on corrupt entry failed: %v", err)
	}
	if ok {
		t.Fatal("corrupt entry must read as a miss")
	}
	if c.Len() != 0 {
		t.Error("corrupt entry should be invalidated")
	}

	// A subsequent GetOrFetch repopulates transparently
	got, err := c.GetOrFetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		return []byte("refetched payload"), nil
	})
	if err != nil {
		t.Fatalf("GetOrFetch failed: %v", err)
	}
	if string(got) != "refetched payload" {
		t.Errorf("payload = %q, want refetched", got)
	}
}

func TestGetOrFetch_SingleFlight(t *testing.T) {
	c, _, _ := newTestCache(t, 0, nil)
	ctx := context.Background()
	key := textKey("romans", 8)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("payload"), nil
	}

	const waiters = 5
	results := make(chan error, waiters)
	for range waiters {
		go func() {
			payload, err := c.GetOrFetch(ctx, key, fetch)
			if err == nil && string(payload) != "payload" {
				err = fmt.Errorf("unexpected payload %q", payload)
			}
			results <- err
		}()
	}

	// Let all callers converge on the flight before releasing it
	time.Sleep(50 * time.Millisecond)
	close(release)

	for range waiters {
		if err := <-results; err != nil {
			t.Fatalf("GetOrFetch failed: %v", err)
		}
	}

	if n := calls.Load(); n != 1 {
		t.Errorf("fetch called %d times, want 1", n)
	}

	// Result was cached
	if _, ok, _ := c.Get(ctx, key); !ok {
		t.Error("fetched payload should be cached")
	}
}

func TestGetOrFetch_ErrorNotCached(t *testing.T) {
	c, _, _ := newTestCache(t, 0, nil)
	ctx := context.Background()
	key := textKey("acts", 2)

	fetchErr := errors.New("upstream unavailable")
	var calls atomic.Int32

	_, err := c.GetOrFetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return nil, fetchErr
	})
	if !errors.Is(err, fetchErr) {
		t.Fatalf("expected fetch error, got: %v", err)
	}
	if c.Len() != 0 {
		t.Error("failed fetch must cache nothing")
	}

	// The key is not poisoned: the next call fetches again and succeeds
	got, err := c.GetOrFetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte("recovered"), nil
	})
	if err != nil {
		t.Fatalf("GetOrFetch retry failed: %v", err)
	}
	if string(got) != "recovered" {
		t.Errorf("payload = %q, want recovered", got)
	}
	if calls.Load() != 2 {
		t.Errorf("fetch calls = %d, want 2", calls.Load())
	}
}

func TestGetOrFetch_OversizedPayloadServedUncached(t *testing.T) {
	c, _, _ := newTestCache(t, 100, nil)
	ctx := context.Background()
	key := content.AudioKey("john", 3, "en-male-1", "high")

	big := make([]byte, 200)
	got, err := c.GetOrFetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		return big, nil
	})
	if err != nil {
		t.Fatalf("GetOrFetch failed: %v", err)
	}
	if len(got) != len(big) {
		t.Errorf("payload length = %d, want %d", len(got), len(big))
	}
	if c.Len() != 0 {
		t.Error("oversized payload must not be cached")
	}
}

func TestNew_RebuildsIndexFromStore(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	first, err := New(ctx, Config{Store: store, Quota: quota.NewManager(0)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	keyA := textKey("john", 3)
	keyB := content.AudioKey("john", 3, "en-male-1", "high")
	if err := first.Put(ctx, keyA, []byte("alpha"), PutOptions{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := first.Put(ctx, keyB, make([]byte, 64), PutOptions{Pinned: true}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	q := quota.NewManager(0)
	second, err := New(ctx, Config{Store: store, Quota: q})
	if err != nil {
		t.Fatalf("New over existing store failed: %v", err)
	}
	defer second.Close()

	if second.Len() != 2 {
		t.Errorf("rebuilt Len = %d, want 2", second.Len())
	}
	if second.UsedBytes() != int64(5+64) {
		t.Errorf("rebuilt UsedBytes = %d, want %d", second.UsedBytes(), 5+64)
	}

	used, _ := q.Snapshot()
	if used != int64(5+64) {
		t.Errorf("quota rescan = %d, want %d", used, 5+64)
	}

	got, ok, err := second.Get(ctx, keyA)
	if err != nil || !ok {
		t.Fatalf("Get after rebuild: ok=%v err=%v", ok, err)
	}
	if string(got) != "alpha" {
		t.Errorf("payload = %q, want alpha", got)
	}

	ent, ok := second.Entry(keyB)
	if !ok || !ent.Pinned {
		t.Error("pin state should survive restart")
	}
}

func TestNew_SweepsOrphanedPayloads(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	// Payload with no index record
	if err := store.Put(ctx, payloadKey("text/mark/1/kjv"), []byte("orphan")); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	c, err := New(ctx, Config{Store: store, Quota: quota.NewManager(0)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	keys, err := store.ListKeys(ctx, payloadPrefix)
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("orphaned payload should be swept, found %v", keys)
	}
}

func TestRescan_CorrectsDrift(t *testing.T) {
	c, store, _ := newTestCache(t, 0, nil)
	ctx := context.Background()

	if err := c.Put(ctx, textKey("john", 3), []byte("12345"), PutOptions{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Remove the record behind the cache's back to create drift
	if err := store.Delete(ctx, metaKey("text/john/3/kjv")); err != nil {
		t.Fatalf("tamper failed: %v", err)
	}

	drift, err := c.Rescan(ctx)
	if err != nil {
		t.Fatalf("Rescan failed: %v", err)
	}
	if drift != -5 {
		t.Errorf("drift = %d, want -5", drift)
	}
	if c.UsedBytes() != 0 {
		t.Errorf("UsedBytes after rescan = %d, want 0", c.UsedBytes())
	}
}

func TestClose_OperationsFail(t *testing.T) {
	c, _, _ := newTestCache(t, 0, nil)
	ctx := context.Background()

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, _, err := c.Get(ctx, textKey("john", 3)); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after Close: %v, want ErrClosed", err)
	}
	if err := c.Put(ctx, textKey("john", 3), []byte("x"), PutOptions{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Put after Close: %v, want ErrClosed", err)
	}
}

func TestConcurrentPutGet(t *testing.T) {
	c, _, _ := newTestCache(t, 0, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := textKey("luke", i+1)
			payload := []byte(fmt.Sprintf("chapter-%d", i+1))
			if err := c.Put(ctx, key, payload, PutOptions{}); err != nil {
				t.Errorf("Put failed: %v", err)
				return
			}
			got, ok, err := c.Get(ctx, key)
			if err != nil || !ok {
				t.Errorf("Get: ok=%v err=%v", ok, err)
				return
			}
			if string(got) != string(payload) {
				t.Errorf("payload = %q, want %q", got, payload)
			}
		}()
	}
	wg.Wait()

	if c.Len() != 8 {
		t.Errorf("Len = %d, want 8", c.Len())
	}
}
