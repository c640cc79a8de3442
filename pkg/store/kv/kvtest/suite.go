// Package kvtest provides a conformance test suite for kv.Store
// implementations. Every backend (memory, badger) runs the same suite so
// callers can swap stores without behavioral surprises.
package kvtest

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/voxbiblia/ark/pkg/store/kv"
)

// StoreFactory creates a fresh kv.Store instance for each test.
// The factory receives *testing.T so it can use t.TempDir() for stores
// that need filesystem paths and t.Cleanup() for teardown.
type StoreFactory func(t *testing.T) kv.Store

// RunConformanceSuite runs the full conformance test suite against the
// provided store factory. Each test gets a fresh store instance to ensure
// isolation.
//
// The suite covers four categories:
//   - BasicOps: put, get, overwrite, delete, empty values
//   - Listing: prefix enumeration
//   - Errors: typed not-found and closed-store failures
//   - Concurrency: parallel access to disjoint and shared keys
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("BasicOps", func(t *testing.T) {
		t.Run("PutGet", func(t *testing.T) { testPutGet(t, factory) })
		t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, factory) })
		t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
		t.Run("DeleteMissing", func(t *testing.T) { testDeleteMissing(t, factory) })
		t.Run("EmptyValue", func(t *testing.T) { testEmptyValue(t, factory) })
		t.Run("ValueIsolation", func(t *testing.T) { testValueIsolation(t, factory) })
	})

	t.Run("Listing", func(t *testing.T) {
		t.Run("Prefix", func(t *testing.T) { testListPrefix(t, factory) })
		t.Run("EmptyPrefix", func(t *testing.T) { testListEmptyPrefix(t, factory) })
		t.Run("NoMatches", func(t *testing.T) { testListNoMatches(t, factory) })
	})

	t.Run("Errors", func(t *testing.T) {
		t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory) })
		t.Run("EmptyKey", func(t *testing.T) { testEmptyKey(t, factory) })
		t.Run("Closed", func(t *testing.T) { testClosed(t, factory) })
	})

	t.Run("Concurrency", func(t *testing.T) {
		t.Run("ParallelWrites", func(t *testing.T) { testParallelWrites(t, factory) })
	})
}

// testPutGet verifies a stored value round-trips exactly.
func testPutGet(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	want := []byte("in the beginning")
	if err := store.Put(ctx, "m:text/genesis/1/kjv", want); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, err := store.Get(ctx, "m:text/genesis/1/kjv")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("Get() = %q, want %q", got, want)
	}
}

// testOverwrite verifies that putting an existing key replaces its value.
func testOverwrite(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	if err := store.Put(ctx, "k", []byte("old")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := store.Put(ctx, "k", []byte("new")); err != nil {
		t.Fatalf("Put() overwrite failed: %v", err)
	}

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("Get() after overwrite = %q, want %q", got, "new")
	}
}

// testDelete verifies that a deleted key is gone.
func testDelete(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	if err := store.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	_, err := store.Get(ctx, "k")
	if err == nil {
		t.Fatal("Get() should fail after deletion")
	}
	if !kv.IsNotFound(err) {
		t.Errorf("expected not found error, got: %v", err)
	}
}

// testDeleteMissing verifies that deleting an absent key succeeds.
func testDeleteMissing(t *testing.T, factory StoreFactory) {
	store := factory(t)

	if err := store.Delete(t.Context(), "never-stored"); err != nil {
		t.Errorf("Delete() of missing key should succeed, got: %v", err)
	}
}

// testEmptyValue verifies that an empty value is stored and retrieved, not
// confused with a missing key.
func testEmptyValue(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	if err := store.Put(ctx, "empty", []byte{}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	got, err := store.Get(ctx, "empty")
	if err != nil {
		t.Fatalf("Get() of empty value failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Get() = %q, want empty", got)
	}
}

// testValueIsolation verifies that mutating caller-owned slices after Put or
// Get does not affect stored state.
func testValueIsolation(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	input := []byte("original")
	if err := store.Put(ctx, "iso", input); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	// Mutate the slice the store was given
	input[0] = 'X'

	first, err := store.Get(ctx, "iso")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(first) != "original" {
		t.Errorf("stored value aliased caller slice: got %q", first)
	}

	// Mutate the slice the store returned
	first[0] = 'Y'

	second, err := store.Get(ctx, "iso")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if string(second) != "original" {
		t.Errorf("returned value aliased stored state: got %q", second)
	}
}

// testListPrefix verifies that only keys under the prefix are returned.
func testListPrefix(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	seed := map[string]string{
		"op:0001": "a",
		"op:0002": "b",
		"op:0010": "c",
		"dl:0001": "d",
		"m:john":  "e",
	}
	for k, v := range seed {
		if err := store.Put(ctx, k, []byte(v)); err != nil {
			t.Fatalf("Put(%q) failed: %v", k, err)
		}
	}

	keys, err := store.ListKeys(ctx, "op:")
	if err != nil {
		t.Fatalf("ListKeys() failed: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("ListKeys(op:) returned %d keys, want 3: %v", len(keys), keys)
	}
	for _, k := range keys {
		if k != "op:0001" && k != "op:0002" && k != "op:0010" {
			t.Errorf("unexpected key %q in listing", k)
		}
	}
}

// testListEmptyPrefix verifies that an empty prefix enumerates everything.
func testListEmptyPrefix(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	for i := range 5 {
		key := fmt.Sprintf("k%d", i)
		if err := store.Put(ctx, key, []byte("v")); err != nil {
			t.Fatalf("Put(%q) failed: %v", key, err)
		}
	}

	keys, err := store.ListKeys(ctx, "")
	if err != nil {
		t.Fatalf("ListKeys() failed: %v", err)
	}
	if len(keys) != 5 {
		t.Errorf("ListKeys(\"\") returned %d keys, want 5", len(keys))
	}
}

// testListNoMatches verifies listing an unused prefix returns no keys.
func testListNoMatches(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	if err := store.Put(ctx, "c:x", []byte("v")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	keys, err := store.ListKeys(ctx, "zz:")
	if err != nil {
		t.Fatalf("ListKeys() failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("ListKeys(zz:) returned %d keys, want 0", len(keys))
	}
}

// testGetMissing verifies the typed not-found error.
func testGetMissing(t *testing.T, factory StoreFactory) {
	store := factory(t)

	_, err := store.Get(t.Context(), "missing")
	if err == nil {
		t.Fatal("Get() of missing key should fail")
	}
	if !kv.IsNotFound(err) {
		t.Errorf("expected not found error, got: %v", err)
	}

	var se *kv.StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected *kv.StoreError, got %T", err)
	}
	if se.Key != "missing" {
		t.Errorf("StoreError.Key = %q, want %q", se.Key, "missing")
	}
}

// testEmptyKey verifies that an empty key is rejected.
func testEmptyKey(t *testing.T, factory StoreFactory) {
	store := factory(t)

	err := store.Put(t.Context(), "", []byte("v"))
	if err == nil {
		t.Fatal("Put() with empty key should fail")
	}
}

// testClosed verifies operations after Close return the closed error.
func testClosed(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	if err := store.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if err := store.Put(ctx, "k2", []byte("v")); !kv.IsClosed(err) {
		t.Errorf("Put() after Close: expected closed error, got: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !kv.IsClosed(err) {
		t.Errorf("Get() after Close: expected closed error, got: %v", err)
	}
	if err := store.Delete(ctx, "k"); !kv.IsClosed(err) {
		t.Errorf("Delete() after Close: expected closed error, got: %v", err)
	}
	if _, err := store.ListKeys(ctx, ""); !kv.IsClosed(err) {
		t.Errorf("ListKeys() after Close: expected closed error, got: %v", err)
	}
}

// testParallelWrites verifies concurrent writers to disjoint keys all land.
func testParallelWrites(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := t.Context()

	const writers = 8
	const perWriter = 20

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				key := fmt.Sprintf("w%d:k%d", w, i)
				if err := store.Put(ctx, key, []byte(key)); err != nil {
					t.Errorf("Put(%q) failed: %v", key, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	keys, err := store.ListKeys(ctx, "")
	if err != nil {
		t.Fatalf("ListKeys() failed: %v", err)
	}
	if len(keys) != writers*perWriter {
		t.Errorf("got %d keys after parallel writes, want %d", len(keys), writers*perWriter)
	}

	// Spot-check one value per writer
	for w := range writers {
		key := fmt.Sprintf("w%d:k0", w)
		got, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get(%q) failed: %v", key, err)
		}
		if string(got) != key {
			t.Errorf("Get(%q) = %q, want %q", key, got, key)
		}
	}
}
