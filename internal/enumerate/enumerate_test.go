package enumerate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rowjay/tier-archiver/internal/objstore"
)

const root = "images/camera/u/"

func drain(t *testing.T, e *Enumerator) []Record {
	t.Helper()
	var out []Record
	for {
		rec, ok, err := e.Next(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, rec)
	}
}

func seedStore() *objstore.Memory {
	store := objstore.NewMemory()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store.SeedSized(root+"u1/a.jpg", 100, base)
	store.SeedSized(root+"u1/b.jpg", 200, base.AddDate(0, 0, 1))
	store.SeedSized(root+"u2/c.jpg", 300, base.AddDate(0, 0, 2))
	store.SeedSized(root+"u3/d.jpg", 400, base.AddDate(0, 0, 3))
	return store
}

func TestNextStreamsInKeyOrder(t *testing.T) {
	e := New(seedStore(), root, Scope{}, 0, 0)
	records := drain(t, e)
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	if records[0].Key != root+"u1/a.jpg" || records[3].Key != root+"u3/d.jpg" {
		t.Fatalf("unexpected order: %v", records)
	}
	if records[0].RelativePath != "u1/a.jpg" {
		t.Fatalf("relative path not derived: %q", records[0].RelativePath)
	}
}

func TestNextHonorsMaxItems(t *testing.T) {
	e := New(seedStore(), root, Scope{MaxItems: 2}, 0, 0)
	records := drain(t, e)
	if len(records) != 2 {
		t.Fatalf("expected cap at 2 records, got %d", len(records))
	}
}

func TestNextHonorsDateRange(t *testing.T) {
	notBefore := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	notAfter := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	e := New(seedStore(), root, Scope{NotBefore: notBefore, NotAfter: notAfter}, 0, 0)
	records := drain(t, e)
	if len(records) != 2 {
		t.Fatalf("expected 2 records in range, got %d", len(records))
	}
	for _, rec := range records {
		if rec.LastModified.Before(notBefore) || rec.LastModified.After(notAfter) {
			t.Fatalf("record %s outside range", rec.Key)
		}
	}
}

func TestNextResumesAfterStartKey(t *testing.T) {
	e := New(seedStore(), root, Scope{StartAfter: root + "u1/b.jpg"}, 0, 0)
	records := drain(t, e)
	if len(records) != 2 {
		t.Fatalf("expected 2 records after resume key, got %d", len(records))
	}
	if records[0].Key != root+"u2/c.jpg" {
		t.Fatalf("unexpected first record: %s", records[0].Key)
	}
}

func TestNextScopesToPrefixSet(t *testing.T) {
	scope := Scope{Prefixes: []string{root + "u3/", root + "u1/"}}
	e := New(seedStore(), root, scope, 0, 0)
	records := drain(t, e)
	if len(records) != 3 {
		t.Fatalf("expected 3 records across two prefixes, got %d", len(records))
	}
	// Prefixes are walked sorted, so u1 objects precede u3.
	if records[0].Key != root+"u1/a.jpg" || records[2].Key != root+"u3/d.jpg" {
		t.Fatalf("unexpected order: %v", records)
	}
}

func TestNextRetriesListingFault(t *testing.T) {
	store := seedStore()
	store.FailList = errors.New("connection reset")
	store.FailListAfter = 2
	e := New(store, root, Scope{}, 2, time.Millisecond)
	records := drain(t, e)
	if len(records) != 4 {
		t.Fatalf("expected all 4 records despite transient fault, got %d", len(records))
	}
}

func TestNextSurfacesEnumerationError(t *testing.T) {
	store := seedStore()
	store.FailList = errors.New("access denied")
	store.FailListAfter = 0
	e := New(store, root, Scope{}, 0, 0)
	_, _, err := e.Next(context.Background())
	var enumErr *Error
	if !errors.As(err, &enumErr) {
		t.Fatalf("expected *enumerate.Error, got %v", err)
	}
}
