package memstore_test

import (
	"testing"

	"github.com/loomfs/loomfs/pkg/metaserver/kvstore"
	"github.com/loomfs/loomfs/pkg/metaserver/kvstore/kvstoretest"
	"github.com/loomfs/loomfs/pkg/metaserver/kvstore/memstore"
)

func TestConformance(t *testing.T) {
	kvstoretest.RunConformanceSuite(t, func(t *testing.T) kvstore.Store {
		store := memstore.New()
		if err := store.Open(); err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		t.Cleanup(func() {
			store.Close()
		})
		return store
	})
}
