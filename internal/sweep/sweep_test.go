package sweep

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rowjay/tier-archiver/internal/objstore"
)

func seedKeys(store *objstore.Memory, n int) []string {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("u/img_%04d.jpg", i)
		store.SeedSized(keys[i], 10, time.Now())
	}
	return keys
}

func TestDeleteSplitsIntoBulkBatches(t *testing.T) {
	store := objstore.NewMemory()
	keys := seedKeys(store, 1500)
	s := New(store, 1000, 0, 0)

	n, err := s.DeleteOriginals(context.Background(), keys)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1500 {
		t.Fatalf("confirmed %d, want 1500", n)
	}
	if store.RemoveCalls != 2 {
		t.Fatalf("expected 2 bulk calls, got %d", store.RemoveCalls)
	}
	if store.RemoveBatchSizes[0] != 1000 || store.RemoveBatchSizes[1] != 500 {
		t.Fatalf("unexpected batch sizes: %v", store.RemoveBatchSizes)
	}
	if left := store.Keys(); len(left) != 0 {
		t.Fatalf("%d originals survived the sweep", len(left))
	}
}

func TestPartialConfirmationRetriesUnconfirmed(t *testing.T) {
	store := objstore.NewMemory()
	keys := seedKeys(store, 20)
	// Two keys refuse deletion once, then succeed.
	store.RefuseRemove[keys[3]] = 1
	store.RefuseRemove[keys[17]] = 1
	s := New(store, 1000, 2, time.Millisecond)

	n, err := s.DeleteOriginals(context.Background(), keys)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 20 {
		t.Fatalf("confirmed %d, want 20", n)
	}
	// One full batch plus one retry of the two stragglers.
	if store.RemoveCalls != 2 {
		t.Fatalf("expected 2 calls, got %d", store.RemoveCalls)
	}
	if store.RemoveBatchSizes[1] != 2 {
		t.Fatalf("retry batch should carry only unconfirmed keys: %v", store.RemoveBatchSizes)
	}
}

func TestExhaustedRetriesReturnDeleteError(t *testing.T) {
	store := objstore.NewMemory()
	keys := seedKeys(store, 5)
	store.RefuseRemove[keys[2]] = 100
	s := New(store, 1000, 2, time.Millisecond)

	n, err := s.DeleteOriginals(context.Background(), keys)
	var derr *DeleteError
	if !errors.As(err, &derr) {
		t.Fatalf("expected *DeleteError, got %v", err)
	}
	if len(derr.Unconfirmed) != 1 || derr.Unconfirmed[0] != keys[2] {
		t.Fatalf("unexpected unconfirmed set: %v", derr.Unconfirmed)
	}
	if n != 4 {
		t.Fatalf("confirmed %d, want 4", n)
	}
}

func TestBatchSizeCappedAtBulkLimit(t *testing.T) {
	s := New(objstore.NewMemory(), 5000, 0, 0)
	if s.BatchSize != objstore.BulkDeleteLimit {
		t.Fatalf("batch size %d, want %d", s.BatchSize, objstore.BulkDeleteLimit)
	}
}
