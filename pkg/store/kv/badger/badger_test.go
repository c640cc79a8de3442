package badger_test

import (
	"path/filepath"
	"testing"

	"github.com/voxbiblia/ark/pkg/store/kv"
	"github.com/voxbiblia/ark/pkg/store/kv/badger"
	"github.com/voxbiblia/ark/pkg/store/kv/kvtest"
)

func TestBadgerStoreConformance(t *testing.T) {
	kvtest.RunConformanceSuite(t, func(t *testing.T) kv.Store {
		dbPath := filepath.Join(t.TempDir(), "ark.db")
		store, err := badger.New(dbPath)
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}
		t.Cleanup(func() {
			_ = store.Close()
		})
		return store
	})
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ark.db")
	ctx := t.Context()

	store, err := badger.New(dbPath)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := store.Put(ctx, "op:0001", []byte("pending")); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reopened, err := badger.New(dbPath)
	if err != nil {
		t.Fatalf("New() reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "op:0001")
	if err != nil {
		t.Fatalf("Get() after reopen failed: %v", err)
	}
	if string(got) != "pending" {
		t.Errorf("Get() after reopen = %q, want %q", got, "pending")
	}
}

func TestBadgerStoreRejectsEmptyPath(t *testing.T) {
	if _, err := badger.New(""); err == nil {
		t.Fatal("New(\"\") should fail")
	}
}
