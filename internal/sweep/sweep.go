// Package sweep deletes archived originals from the hot tier and refuses
// to report success until every deletion is confirmed.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/rowjay/tier-archiver/internal/objstore"
)

// DeleteError reports keys the store never confirmed deleted after the
// retry budget ran out. A segment whose delete ends this way must not
// advance the checkpoint.
type DeleteError struct {
	Unconfirmed []string
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("delete unconfirmed for %d keys (first: %q)", len(e.Unconfirmed), e.Unconfirmed[0])
}

// Sweeper issues size-capped bulk deletes with bounded retries for
// partially confirmed batches.
type Sweeper struct {
	Store        objstore.Store
	BatchSize    int
	RetryCount   int
	RetryBackoff time.Duration
}

func New(store objstore.Store, batchSize, retryCount int, retryBackoff time.Duration) *Sweeper {
	if batchSize <= 0 || batchSize > objstore.BulkDeleteLimit {
		batchSize = objstore.BulkDeleteLimit
	}
	return &Sweeper{Store: store, BatchSize: batchSize, RetryCount: retryCount, RetryBackoff: retryBackoff}
}

// DeleteOriginals removes keys in batches and returns the confirmed
// count. A batch whose response confirms fewer keys than requested is a
// partial failure: the unconfirmed keys are retried up to RetryCount
// times before the whole call fails with a *DeleteError.
func (s *Sweeper) DeleteOriginals(ctx context.Context, keys []string) (int, error) {
	confirmed := 0
	for start := 0; start < len(keys); start += s.BatchSize {
		end := min(start+s.BatchSize, len(keys))
		n, err := s.deleteBatch(ctx, keys[start:end])
		confirmed += n
		if err != nil {
			return confirmed, err
		}
	}
	return confirmed, nil
}

func (s *Sweeper) deleteBatch(ctx context.Context, batch []string) (int, error) {
	remaining := batch
	confirmed := 0
	for attempt := 0; ; attempt++ {
		done, err := s.Store.Remove(ctx, remaining)
		if err != nil {
			return confirmed, err
		}
		confirmed += len(done)
		remaining = missing(remaining, done)
		if len(remaining) == 0 {
			return confirmed, nil
		}
		if attempt >= s.RetryCount {
			return confirmed, &DeleteError{Unconfirmed: remaining}
		}
		select {
		case <-time.After(s.RetryBackoff):
		case <-ctx.Done():
			return confirmed, ctx.Err()
		}
	}
}

// missing returns the requested keys absent from the confirmed set,
// preserving request order.
func missing(requested, confirmed []string) []string {
	got := make(map[string]bool, len(confirmed))
	for _, k := range confirmed {
		got[k] = true
	}
	var out []string
	for _, k := range requested {
		if !got[k] {
			out = append(out, k)
		}
	}
	return out
}
