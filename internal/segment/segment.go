// Package segment packs candidate records into byte-budgeted segments.
package segment

import (
	"context"
	"fmt"
	"time"

	"github.com/rowjay/tier-archiver/internal/enumerate"
)

// Segment is one atomic unit of archival work.
type Segment struct {
	Records     []enumerate.Record
	TotalSize   int64
	MinModified time.Time
	MaxModified time.Time
}

func (s *Segment) Empty() bool { return len(s.Records) == 0 }

// Keys returns the member keys in segment order.
func (s *Segment) Keys() []string {
	keys := make([]string, len(s.Records))
	for i, rec := range s.Records {
		keys[i] = rec.Key
	}
	return keys
}

func (s *Segment) FirstKey() string {
	if s.Empty() {
		return ""
	}
	return s.Records[0].Key
}

func (s *Segment) LastKey() string {
	if s.Empty() {
		return ""
	}
	return s.Records[len(s.Records)-1].Key
}

func (s *Segment) admit(rec enumerate.Record) {
	s.Records = append(s.Records, rec)
	s.TotalSize += rec.Size
	if s.MinModified.IsZero() || rec.LastModified.Before(s.MinModified) {
		s.MinModified = rec.LastModified
	}
	if rec.LastModified.After(s.MaxModified) {
		s.MaxModified = rec.LastModified
	}
}

// Source produces candidate records in delivery order.
type Source interface {
	Next(ctx context.Context) (enumerate.Record, bool, error)
}

// OversizeError marks a single record that can never fit any segment.
type OversizeError struct {
	Key    string
	Size   int64
	Budget int64
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("object %q (%d bytes) exceeds segment budget of %d bytes", e.Key, e.Size, e.Budget)
}

// Builder packs a source into successive segments using a first-fit-stop
// policy: records are admitted in delivery order until the next one would
// exceed the budget; that record is carried over to start the following
// segment, never dropped.
type Builder struct {
	src    Source
	budget int64
	carry  *enumerate.Record
}

func NewBuilder(src Source, budgetBytes int64) *Builder {
	return &Builder{src: src, budget: budgetBytes}
}

// Next builds the next segment. An empty segment means the source is
// exhausted. A record larger than the whole budget is a configuration
// fault and aborts packing rather than looping forever.
func (b *Builder) Next(ctx context.Context) (*Segment, error) {
	seg := &Segment{}
	for {
		var rec enumerate.Record
		if b.carry != nil {
			rec = *b.carry
			b.carry = nil
		} else {
			next, ok, err := b.src.Next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				return seg, nil
			}
			rec = next
		}

		if rec.Size > b.budget {
			return nil, &OversizeError{Key: rec.Key, Size: rec.Size, Budget: b.budget}
		}
		if seg.TotalSize+rec.Size > b.budget {
			b.carry = &rec
			return seg, nil
		}
		seg.admit(rec)
	}
}
