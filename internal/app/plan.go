package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rowjay/tier-archiver/internal/checkpoint"
	"github.com/rowjay/tier-archiver/internal/enumerate"
	"github.com/rowjay/tier-archiver/internal/objstore"
	"github.com/rowjay/tier-archiver/internal/segment"
	"github.com/rowjay/tier-archiver/internal/util"
)

// PlannedSegment describes one segment a run would commit.
type PlannedSegment struct {
	Name     string
	Objects  int
	Bytes    int64
	FirstKey string
	LastKey  string
}

// Plan enumerates and packs the current scope without fetching, uploading,
// or deleting anything. It reports the segments a real run would produce
// from the present checkpoint.
func (a *App) Plan(ctx context.Context) ([]PlannedSegment, error) {
	last, err := a.Checkpoints.ReadLast(ctx)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	root := util.EnsureDirPrefix(a.Cfg.Source.Prefix)
	var planned []PlannedSegment
	names := newNameSequencer()

	appendSegments := func(builder *segment.Builder, nameOf func(*segment.Segment, int) string) error {
		part := 0
		for {
			seg, err := builder.Next(ctx)
			if err != nil {
				return &StageError{Stage: buildStage(err), Err: err}
			}
			if seg.Empty() {
				return nil
			}
			part++
			planned = append(planned, PlannedSegment{
				Name:     names.unique(nameOf(seg, part)),
				Objects:  len(seg.Records),
				Bytes:    seg.TotalSize,
				FirstKey: seg.FirstKey(),
				LastKey:  seg.LastKey(),
			})
		}
	}

	if a.Cfg.Batch.Mode == "metadata" {
		afterID := ""
		if last != nil {
			afterID = last.LastID
		}
		for {
			items, err := a.Meta.NextBatch(ctx, afterID, a.Cfg.Batch.Size)
			if err != nil {
				return nil, &StageError{Stage: StageEnumerate, Err: err}
			}
			if len(items) == 0 {
				return planned, nil
			}
			firstID, lastID := items[0].ID, items[len(items)-1].ID
			scope, err := a.listingScope(nil)
			if err != nil {
				return nil, err
			}
			scope.Prefixes = make([]string, len(items))
			for i, item := range items {
				scope.Prefixes[i] = root + item.ID + "/"
			}
			enum := enumerate.New(a.Store, root, scope, a.Cfg.Batch.ListRetries, a.Cfg.Batch.ListBackoff)
			err = appendSegments(segment.NewBuilder(enum, a.Cfg.Archive.SegmentBytes), func(_ *segment.Segment, part int) string {
				if part > 1 {
					return fmt.Sprintf("%s-p%02d", util.IDRangeName(firstID, lastID), part)
				}
				return util.IDRangeName(firstID, lastID)
			})
			if err != nil {
				return nil, err
			}
			afterID = lastID
		}
	}

	scope, err := a.listingScope(last)
	if err != nil {
		return nil, err
	}
	enum := enumerate.New(a.Store, root, scope, a.Cfg.Batch.ListRetries, a.Cfg.Batch.ListBackoff)
	err = appendSegments(segment.NewBuilder(enum, a.Cfg.Archive.SegmentBytes), func(seg *segment.Segment, _ int) string {
		return util.DateRangeName(seg.MinModified, seg.MaxModified)
	})
	if err != nil {
		return nil, err
	}
	return planned, nil
}

// Validate checks the configuration, source reachability, and checkpoint
// readability without touching any data.
func (a *App) Validate(ctx context.Context) error {
	if err := a.Cfg.Validate(); err != nil {
		return err
	}

	listCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	ch := a.Store.List(listCtx, objstore.ListOptions{Prefix: util.EnsureDirPrefix(a.Cfg.Source.Prefix)})
	if entry, ok := <-ch; ok && entry.Err != nil {
		return fmt.Errorf("source listing: %w", entry.Err)
	}
	cancel()

	if _, err := a.Checkpoints.ReadLast(ctx); err != nil {
		return fmt.Errorf("checkpoint store: %w", err)
	}
	if a.Cfg.Batch.Mode == "metadata" {
		if _, err := a.Meta.NextBatch(ctx, "", 1); err != nil {
			return fmt.Errorf("metadata store: %w", err)
		}
	}
	return nil
}

// LastCheckpoint exposes the resume cursor for the checkpoint command.
func (a *App) LastCheckpoint(ctx context.Context) (*checkpoint.Record, error) {
	return a.Checkpoints.ReadLast(ctx)
}
