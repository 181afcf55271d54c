package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rowjay/tier-archiver/internal/enumerate"
	"github.com/rowjay/tier-archiver/internal/objstore"
	"github.com/rowjay/tier-archiver/internal/segment"
)

func buildSegment(t *testing.T, store *objstore.Memory, n int) *segment.Segment {
	t.Helper()
	seg := &segment.Segment{}
	base := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("u/%d/img_%02d.jpg", i%3, i)
		data := []byte(fmt.Sprintf("payload-%02d", i))
		store.Seed(key, data, base)
		seg.Records = append(seg.Records, enumerate.Record{
			Key:          key,
			Size:         int64(len(data)),
			LastModified: base,
			RelativePath: fmt.Sprintf("%d/img_%02d.jpg", i%3, i),
		})
		seg.TotalSize += int64(len(data))
	}
	return seg
}

func TestFetchMirrorsSegment(t *testing.T) {
	store := objstore.NewMemory()
	seg := buildSegment(t, store, 10)
	root := t.TempDir()

	res, err := Fetch(context.Background(), store, seg, root, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Paths) != 10 {
		t.Fatalf("expected 10 mirrored files, got %d", len(res.Paths))
	}
	if res.TotalBytes != seg.TotalSize {
		t.Fatalf("byte total %d, want %d", res.TotalBytes, seg.TotalSize)
	}
	for key, local := range res.Paths {
		if _, err := os.Stat(local); err != nil {
			t.Fatalf("missing mirror for %s: %v", key, err)
		}
		rel, err := filepath.Rel(root, local)
		if err != nil || filepath.IsAbs(rel) {
			t.Fatalf("mirror escaped root: %s", local)
		}
	}
}

func TestFetchAbortsWholeSegmentOnFailure(t *testing.T) {
	store := objstore.NewMemory()
	seg := buildSegment(t, store, 10)
	failing := seg.Records[6].Key
	store.FailDownload[failing] = errors.New("throttled")
	root := t.TempDir()

	_, err := Fetch(context.Background(), store, seg, root, 2)
	if err == nil {
		t.Fatal("expected fetch failure")
	}
	var fetchErr *Error
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *fetch.Error, got %v", err)
	}
	if fetchErr.Key != failing {
		t.Fatalf("error names key %s, want %s", fetchErr.Key, failing)
	}
}

func TestFetchRespectsCancellation(t *testing.T) {
	store := objstore.NewMemory()
	seg := buildSegment(t, store, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Fetch(ctx, store, seg, t.TempDir(), 2); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
