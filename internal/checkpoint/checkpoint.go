// Package checkpoint persists the resume cursor of the archival pipeline.
//
// The store is append-only: one record per committed batch, and only the
// most recent record's LastID is consulted on resume. An append must be
// the last step of a segment's commit; a failed append is fatal for the
// run because the resume point would otherwise be unknown.
package checkpoint

import (
	"context"
	"fmt"
	"time"
)

// Record marks one fully committed batch.
type Record struct {
	FirstID    string    `json:"first_id" bson:"first_id"`
	LastID     string    `json:"last_id" bson:"last_id"`
	TotalCount int       `json:"total_count" bson:"total_count"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
}

// Store is the durable cursor collaborator.
type Store interface {
	// ReadLast returns the most recently appended record, or nil when
	// the store is empty.
	ReadLast(ctx context.Context) (*Record, error)
	// Append persists one record. LastID must be strictly greater than
	// the current tail's in the external identifier ordering.
	Append(ctx context.Context, rec Record) error
}

// WriteError marks a failed durable append. Fatal for the run.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("checkpoint write: %v", e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// validateAdvance enforces the strictly-increasing LastID sequence.
func validateAdvance(prev *Record, next Record) error {
	if next.LastID == "" {
		return fmt.Errorf("checkpoint record has empty last_id")
	}
	if prev != nil && next.LastID <= prev.LastID {
		return fmt.Errorf("checkpoint last_id %q does not advance past %q", next.LastID, prev.LastID)
	}
	return nil
}
