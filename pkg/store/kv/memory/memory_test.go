package memory

import (
	"testing"

	"github.com/voxbiblia/ark/pkg/store/kv"
	"github.com/voxbiblia/ark/pkg/store/kv/kvtest"
)

func TestMemoryStoreConformance(t *testing.T) {
	kvtest.RunConformanceSuite(t, func(t *testing.T) kv.Store {
		store := New()
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}
