// Package metastore queries the external identifier space that drives
// metadata-mode batches: an id-ordered collection filtered past the last
// committed cursor.
package metastore

import (
	"context"
	"fmt"
)

// Item is one identifier from the external batch space.
type Item struct {
	ID string `bson:"_id"`
}

// Store is the metadata/document-store capability. Implementations must
// return items in ascending id order, strictly greater than afterID,
// at most limit of them.
type Store interface {
	NextBatch(ctx context.Context, afterID string, limit int64) ([]Item, error)
}

// Error wraps a metadata query failure.
type Error struct {
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("metastore: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
