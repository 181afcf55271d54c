// Package enumerate streams archival candidates out of the hot tier.
//
// An Enumerator walks one or more key prefixes in key order, paginating
// through the store's listing, filtering by modification date, and
// stopping at an item cap. It delivers records lazily so the caller never
// holds more than the listing's in-flight page plus one in-progress
// segment.
package enumerate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rowjay/tier-archiver/internal/objstore"
)

// Record is one archival candidate. Immutable once produced.
// RelativePath is derived exactly once, against the source root, and is
// the path used for the local mirror and the archive member name.
type Record struct {
	Key          string
	Size         int64
	LastModified time.Time
	RelativePath string
}

// Scope bounds one enumeration.
type Scope struct {
	// Prefixes to walk, in order. Walked sorted so that the overall key
	// sequence is monotonic and StartAfter stays meaningful.
	Prefixes []string
	// NotBefore/NotAfter are inclusive LastModified bounds; zero values
	// leave the corresponding side unbounded.
	NotBefore time.Time
	NotAfter  time.Time
	// MaxItems caps the number of delivered records; 0 means no cap.
	MaxItems int
	// StartAfter resumes strictly after this key.
	StartAfter string
}

// Error reports a listing fault after retries were exhausted.
type Error struct {
	Prefix string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("enumerate %q: %v", e.Prefix, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Enumerator is a pull iterator over candidate records. Not safe for
// concurrent use.
type Enumerator struct {
	store   objstore.Store
	root    string // stripped from keys to form RelativePath
	scope   Scope
	retries int
	backoff time.Duration

	prefixIdx int
	stream    <-chan objstore.ListEntry
	lastKey   string
	delivered int
}

// New builds an Enumerator. root is the source prefix relative paths are
// computed against; retries bounds listing re-opens per transport fault.
func New(store objstore.Store, root string, scope Scope, retries int, backoff time.Duration) *Enumerator {
	prefixes := append([]string(nil), scope.Prefixes...)
	if len(prefixes) == 0 {
		prefixes = []string{root}
	}
	sort.Strings(prefixes)
	scope.Prefixes = prefixes
	return &Enumerator{
		store:   store,
		root:    root,
		scope:   scope,
		retries: retries,
		backoff: backoff,
		lastKey: scope.StartAfter,
	}
}

// Next returns the next candidate record. The second result is false once
// the scope is exhausted. A listing fault is retried by reopening the
// current prefix after the last delivered key; exhausting the retry
// budget returns an *Error.
func (e *Enumerator) Next(ctx context.Context) (Record, bool, error) {
	if e.scope.MaxItems > 0 && e.delivered >= e.scope.MaxItems {
		return Record{}, false, nil
	}

	attempts := 0
	for e.prefixIdx < len(e.scope.Prefixes) {
		prefix := e.scope.Prefixes[e.prefixIdx]
		if e.stream == nil {
			e.stream = e.store.List(ctx, objstore.ListOptions{Prefix: prefix, StartAfter: e.lastKey})
		}

		entry, open := <-e.stream
		if !open {
			// Prefix exhausted. The resume key resets to the scope-wide
			// StartAfter: within-prefix progress must not constrain the
			// next prefix's listing.
			e.stream = nil
			e.prefixIdx++
			e.lastKey = e.scope.StartAfter
			continue
		}
		if entry.Err != nil {
			attempts++
			if attempts > e.retries {
				return Record{}, false, &Error{Prefix: prefix, Err: entry.Err}
			}
			e.stream = nil
			select {
			case <-time.After(e.backoff):
			case <-ctx.Done():
				return Record{}, false, ctx.Err()
			}
			continue
		}

		e.lastKey = entry.Key
		if strings.HasSuffix(entry.Key, "/") {
			continue // directory marker
		}
		if !e.inDateRange(entry.LastModified) {
			continue
		}

		e.delivered++
		return Record{
			Key:          entry.Key,
			Size:         entry.Size,
			LastModified: entry.LastModified,
			RelativePath: strings.TrimPrefix(entry.Key, e.root),
		}, true, nil
	}
	return Record{}, false, nil
}

func (e *Enumerator) inDateRange(modified time.Time) bool {
	if !e.scope.NotBefore.IsZero() && modified.Before(e.scope.NotBefore) {
		return false
	}
	if !e.scope.NotAfter.IsZero() && modified.After(e.scope.NotAfter) {
		return false
	}
	return true
}
