// Package fetch mirrors a segment's objects into local scratch space.
package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rowjay/tier-archiver/internal/objstore"
	"github.com/rowjay/tier-archiver/internal/segment"
)

// DefaultConcurrency bounds the download worker pool when the caller does
// not configure one.
const DefaultConcurrency = 10

// Error identifies the object whose download failed.
type Error struct {
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %q: %v", e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result maps each member key to its local mirror path.
type Result struct {
	Paths      map[string]string
	TotalBytes int64
}

// Fetch downloads every record of the segment into
// localRoot/<RelativePath> under a bounded worker pool. The first failed
// download cancels the remaining workers and fails the whole segment;
// files already on disk are left in place for the caller's scoped
// cleanup, and no partial result is returned.
func Fetch(ctx context.Context, store objstore.Store, seg *segment.Segment, localRoot string, concurrency int) (*Result, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	res := &Result{Paths: make(map[string]string, len(seg.Records))}
	var mu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for _, rec := range seg.Records {
		eg.Go(func() error {
			local := filepath.Join(localRoot, filepath.FromSlash(rec.RelativePath))
			if err := os.MkdirAll(filepath.Dir(local), 0o750); err != nil {
				return &Error{Key: rec.Key, Err: err}
			}
			if err := store.Download(egCtx, rec.Key, local); err != nil {
				return &Error{Key: rec.Key, Err: err}
			}
			mu.Lock()
			res.Paths[rec.Key] = local
			res.TotalBytes += rec.Size
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}
