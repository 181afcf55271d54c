package objstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// BulkDeleteLimit is the largest number of keys the store accepts in a
// single Remove call, matching the S3 DeleteObjects limit.
const BulkDeleteLimit = 1000

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes one stored object as reported by a listing.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ListEntry is one result of a listing stream. Err is set on transport
// faults; the stream ends after the first entry carrying an error.
type ListEntry struct {
	ObjectInfo
	Err error
}

// ListOptions scopes a listing.
type ListOptions struct {
	Prefix string
	// StartAfter resumes the listing strictly after the given key in the
	// store's key ordering.
	StartAfter string
}

// UploadOptions carries per-object upload parameters.
type UploadOptions struct {
	StorageClass string
	ContentType  string
}

// Store is the object-store capability the pipeline depends on. The core
// never constructs a concrete client itself; implementations are injected.
type Store interface {
	// List streams objects under a prefix in key order, paginating
	// transparently. The channel is closed when the listing is exhausted
	// or after an entry with a non-nil Err.
	List(ctx context.Context, opts ListOptions) <-chan ListEntry

	// Download writes the object to localPath. Parent directories must
	// already exist.
	Download(ctx context.Context, key, localPath string) error

	// Upload stores the file at localPath under key.
	Upload(ctx context.Context, localPath, key string, opts UploadOptions) error

	// Remove issues one bulk delete for up to BulkDeleteLimit keys and
	// returns the keys the store confirmed deleted. A missing key in the
	// confirmed set is a partial failure the caller must handle.
	Remove(ctx context.Context, keys []string) ([]string, error)

	// Stat returns metadata for one object.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// Error wraps a store failure with the operation and object key.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("objstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
