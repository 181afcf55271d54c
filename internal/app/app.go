// Package app sequences the archival pipeline: enumerate, build, fetch,
// archive, sweep, checkpoint, repeat until the source is drained.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/tier-archiver/internal/archive"
	"github.com/rowjay/tier-archiver/internal/checkpoint"
	"github.com/rowjay/tier-archiver/internal/config"
	"github.com/rowjay/tier-archiver/internal/cryptoutil"
	"github.com/rowjay/tier-archiver/internal/enumerate"
	"github.com/rowjay/tier-archiver/internal/fetch"
	"github.com/rowjay/tier-archiver/internal/lock"
	"github.com/rowjay/tier-archiver/internal/metastore"
	"github.com/rowjay/tier-archiver/internal/notify"
	"github.com/rowjay/tier-archiver/internal/objstore"
	"github.com/rowjay/tier-archiver/internal/segment"
	"github.com/rowjay/tier-archiver/internal/sweep"
	"github.com/rowjay/tier-archiver/internal/util"
)

type App struct {
	Cfg         *config.Config
	Store       objstore.Store
	Checkpoints checkpoint.Store
	Meta        metastore.Store // nil unless batch.mode is metadata
	Log         zerolog.Logger
	Notifier    notify.Notifier
}

func New(cfg *config.Config, store objstore.Store, ckpt checkpoint.Store, meta metastore.Store, log zerolog.Logger, notifier notify.Notifier) *App {
	return &App{Cfg: cfg, Store: store, Checkpoints: ckpt, Meta: meta, Log: log, Notifier: notifier}
}

// RunResult aggregates one run's committed work.
type RunResult struct {
	Segments int
	Objects  int
	Bytes    int64
}

// Run drains the source scope segment by segment. The first stage failure
// aborts the run: scratch is cleaned, the checkpoint stays where it was,
// and no later segment is attempted, so a data-loss risk is never masked
// by skip-and-continue.
func (a *App) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	res := &RunResult{}
	var runErr error
	defer func() {
		a.notifyOutcome(start, res, runErr)
	}()

	guard, err := lock.Acquire(a.Cfg.Global.LockFile)
	if err != nil {
		runErr = err
		return res, err
	}
	defer guard.Release()

	ok, err := util.InWindow(time.Now(), a.Cfg.Schedule.WindowStart, a.Cfg.Schedule.WindowEnd, a.Cfg.Schedule.Timezone)
	if err != nil {
		runErr = err
		return res, err
	}
	if !ok {
		runErr = fmt.Errorf("current time is outside the configured run window")
		return res, runErr
	}

	if err := os.MkdirAll(a.Cfg.Fetch.ScratchDir, 0o750); err != nil {
		runErr = fmt.Errorf("create scratch dir: %w", err)
		return res, runErr
	}

	last, err := a.Checkpoints.ReadLast(ctx)
	if err != nil {
		runErr = fmt.Errorf("read checkpoint: %w", err)
		return res, runErr
	}
	if last != nil {
		a.Log.Info().Str("last_id", last.LastID).Time("committed_at", last.Timestamp).Msg("resuming after checkpoint")
	}

	switch a.Cfg.Batch.Mode {
	case "metadata":
		runErr = a.runMetadata(ctx, last, res)
	default:
		runErr = a.runListing(ctx, last, res)
	}
	if runErr != nil {
		a.Log.Error().Err(runErr).Msg("run aborted")
		return res, runErr
	}
	a.Log.Info().
		Int("segments", res.Segments).
		Int("objects", res.Objects).
		Int64("bytes", res.Bytes).
		Msg("run complete")
	return res, nil
}

// runListing drives batches straight off the hot tier's key order. The
// checkpoint cursor is the last object key of each committed segment and
// enumeration resumes strictly after it.
func (a *App) runListing(ctx context.Context, last *checkpoint.Record, res *RunResult) error {
	scope, err := a.listingScope(last)
	if err != nil {
		return err
	}
	root := util.EnsureDirPrefix(a.Cfg.Source.Prefix)
	enum := enumerate.New(a.Store, root, scope, a.Cfg.Batch.ListRetries, a.Cfg.Batch.ListBackoff)
	builder := segment.NewBuilder(enum, a.Cfg.Archive.SegmentBytes)

	for {
		seg, err := builder.Next(ctx)
		if err != nil {
			return &StageError{Stage: buildStage(err), Err: err}
		}
		if seg.Empty() {
			return nil
		}
		name, err := a.resolveArchiveName(ctx, util.DateRangeName(seg.MinModified, seg.MaxModified))
		if err != nil {
			return &StageError{Stage: StageArchive, Err: err}
		}
		if err := a.processSegment(ctx, seg, name); err != nil {
			return err
		}
		rec := checkpoint.Record{
			FirstID:    seg.FirstKey(),
			LastID:     seg.LastKey(),
			TotalCount: len(seg.Records),
			Timestamp:  time.Now().UTC(),
		}
		if err := a.Checkpoints.Append(ctx, rec); err != nil {
			return &StageError{Stage: StageCheckpoint, Segment: name, Err: err}
		}
		res.Segments++
		res.Objects += len(seg.Records)
		res.Bytes += seg.TotalSize
	}
}

// runMetadata derives each batch's key prefixes from an id-ordered
// metadata query. A batch may span several budget-bounded segments; its
// checkpoint is appended once, after every segment of the batch has
// committed, so the cursor only ever covers fully archived identifiers.
func (a *App) runMetadata(ctx context.Context, last *checkpoint.Record, res *RunResult) error {
	afterID := ""
	if last != nil {
		afterID = last.LastID
	}
	root := util.EnsureDirPrefix(a.Cfg.Source.Prefix)

	for {
		items, err := a.Meta.NextBatch(ctx, afterID, a.Cfg.Batch.Size)
		if err != nil {
			return &StageError{Stage: StageEnumerate, Err: err}
		}
		if len(items) == 0 {
			return nil
		}
		firstID, lastID := items[0].ID, items[len(items)-1].ID
		prefixes := make([]string, len(items))
		for i, item := range items {
			prefixes[i] = root + item.ID + "/"
		}

		scope, err := a.listingScope(nil)
		if err != nil {
			return err
		}
		scope.Prefixes = prefixes
		scope.StartAfter = ""
		enum := enumerate.New(a.Store, root, scope, a.Cfg.Batch.ListRetries, a.Cfg.Batch.ListBackoff)
		builder := segment.NewBuilder(enum, a.Cfg.Archive.SegmentBytes)

		batchObjects := 0
		part := 0
		for {
			seg, err := builder.Next(ctx)
			if err != nil {
				return &StageError{Stage: buildStage(err), Err: err}
			}
			if seg.Empty() {
				break
			}
			part++
			name := util.IDRangeName(firstID, lastID)
			if part > 1 {
				name = fmt.Sprintf("%s-p%02d", name, part)
			}
			name, err = a.resolveArchiveName(ctx, name)
			if err != nil {
				return &StageError{Stage: StageArchive, Err: err}
			}
			if err := a.processSegment(ctx, seg, name); err != nil {
				return err
			}
			res.Segments++
			res.Objects += len(seg.Records)
			res.Bytes += seg.TotalSize
			batchObjects += len(seg.Records)
		}

		rec := checkpoint.Record{
			FirstID:    firstID,
			LastID:     lastID,
			TotalCount: batchObjects,
			Timestamp:  time.Now().UTC(),
		}
		if err := a.Checkpoints.Append(ctx, rec); err != nil {
			return &StageError{Stage: StageCheckpoint, Segment: util.IDRangeName(firstID, lastID), Err: err}
		}
		afterID = lastID
	}
}

// processSegment runs one segment through fetch, archive, verify,
// and sweep. The segment's scratch directory is removed on every exit
// path; only an archive that failed to upload survives, moved aside for
// manual retry.
func (a *App) processSegment(ctx context.Context, seg *segment.Segment, name string) error {
	log := a.Log.With().Str("segment", name).Int("objects", len(seg.Records)).Int64("bytes", seg.TotalSize).Logger()
	log.Info().Str("first_key", seg.FirstKey()).Str("last_key", seg.LastKey()).Msg("segment start")

	segDir := filepath.Join(a.Cfg.Fetch.ScratchDir, name)
	if err := os.MkdirAll(segDir, 0o750); err != nil {
		return &StageError{Stage: StageFetch, Segment: name, Err: err}
	}
	defer os.RemoveAll(segDir)

	if _, err := fetch.Fetch(ctx, a.Store, seg, segDir, a.Cfg.Fetch.Concurrency); err != nil {
		return &StageError{Stage: StageFetch, Segment: name, Err: err}
	}
	log.Debug().Msg("segment mirrored")

	var encKey []byte
	if a.Cfg.Archive.Encryption {
		key, err := cryptoutil.ParseKey(a.Cfg.Archive.EncryptionKey)
		if err != nil {
			return &StageError{Stage: StageArchive, Segment: name, Err: err}
		}
		encKey = key
	}

	fileName := util.ArchiveFileName(name, a.Cfg.Archive.Format, a.Cfg.Archive.Encryption)
	archivePath := filepath.Join(a.Cfg.Fetch.ScratchDir, fileName)
	desc, err := archive.Build(seg, segDir, archivePath, a.Cfg.Archive.Format, encKey)
	if err != nil {
		return &StageError{Stage: StageArchive, Segment: name, Err: err}
	}

	desc.DestinationKey = util.JoinKey(a.Cfg.Archive.DestinationPrefix, fileName)
	err = util.Retry(ctx, a.Cfg.Archive.UploadRetries, a.Cfg.Archive.UploadBackoff, func() error {
		return archive.Upload(ctx, a.Store, archivePath, desc.DestinationKey, a.Cfg.Archive.StorageClass, a.Cfg.Archive.Format)
	})
	if err != nil {
		retained := a.retainArchive(archivePath)
		log.Error().Err(err).Str("retained", retained).Msg("upload failed, archive retained for manual retry")
		return &StageError{Stage: StageArchive, Segment: name, Err: err}
	}
	if err := a.verifyUpload(ctx, archivePath, desc.DestinationKey); err != nil {
		retained := a.retainArchive(archivePath)
		log.Error().Err(err).Str("retained", retained).Msg("upload verification failed, archive retained for manual retry")
		return &StageError{Stage: StageArchive, Segment: name, Err: err}
	}
	os.Remove(archivePath)
	log.Info().Str("key", desc.DestinationKey).Str("storage_class", a.Cfg.Archive.StorageClass).Msg("archive uploaded")

	sweeper := sweep.New(a.Store, a.Cfg.Sweep.BatchSize, a.Cfg.Sweep.RetryCount, a.Cfg.Sweep.RetryBackoff)
	deleted, err := sweeper.DeleteOriginals(ctx, desc.MemberKeys)
	if err != nil {
		return &StageError{Stage: StageSweep, Segment: name, Err: err}
	}
	log.Info().Int("deleted", deleted).Msg("originals swept")
	return nil
}

// verifyUpload confirms the archival tier holds the full unit before any
// original is deleted.
func (a *App) verifyUpload(ctx context.Context, archivePath, destKey string) error {
	local, err := os.Stat(archivePath)
	if err != nil {
		return err
	}
	remote, err := a.Store.Stat(ctx, destKey)
	if err != nil {
		return err
	}
	if remote.Size != local.Size() {
		return fmt.Errorf("uploaded archive %q is %d bytes, local is %d", destKey, remote.Size, local.Size())
	}
	return nil
}

// resolveArchiveName returns the first archive name, starting from base,
// whose destination key does not already exist. Date-range names repeat
// across segments and across runs; reusing a taken key would overwrite a
// committed archive whose originals are already gone.
func (a *App) resolveArchiveName(ctx context.Context, base string) (string, error) {
	name := base
	for part := 2; ; part++ {
		key := util.JoinKey(a.Cfg.Archive.DestinationPrefix, util.ArchiveFileName(name, a.Cfg.Archive.Format, a.Cfg.Archive.Encryption))
		taken, err := a.Store.Exists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("check destination key %q: %w", key, err)
		}
		if !taken {
			return name, nil
		}
		name = fmt.Sprintf("%s-p%02d", base, part)
	}
}

func (a *App) retainArchive(archivePath string) string {
	dir := filepath.Join(a.Cfg.Fetch.ScratchDir, "retained")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return archivePath
	}
	dest := filepath.Join(dir, filepath.Base(archivePath))
	if err := os.Rename(archivePath, dest); err != nil {
		return archivePath
	}
	return dest
}

func (a *App) listingScope(last *checkpoint.Record) (enumerate.Scope, error) {
	scope := enumerate.Scope{MaxItems: a.Cfg.Batch.MaxItems}
	if last != nil {
		scope.StartAfter = last.LastID
	}
	if a.Cfg.Batch.StartDate != "" {
		t, err := parseDate(a.Cfg.Batch.StartDate)
		if err != nil {
			return scope, fmt.Errorf("invalid batch.start_date: %w", err)
		}
		scope.NotBefore = t
	}
	if a.Cfg.Batch.EndDate != "" {
		t, err := parseDate(a.Cfg.Batch.EndDate)
		if err != nil {
			return scope, fmt.Errorf("invalid batch.end_date: %w", err)
		}
		scope.NotAfter = t
	}
	return scope, nil
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

func buildStage(err error) Stage {
	var enumErr *enumerate.Error
	var metaErr *metastore.Error
	if errors.As(err, &enumErr) || errors.As(err, &metaErr) {
		return StageEnumerate
	}
	return StageBuild
}

func (a *App) notifyOutcome(start time.Time, res *RunResult, runErr error) {
	if a.Notifier == nil {
		return
	}
	event := notify.Event{
		Type:          "archive-run",
		Status:        "success",
		Bucket:        a.Cfg.Source.Bucket,
		Segments:      res.Segments,
		Objects:       res.Objects,
		BytesArchived: res.Bytes,
		StartedAt:     start,
		EndedAt:       time.Now(),
		Duration:      time.Since(start).String(),
	}
	if runErr != nil {
		event.Status = "failed"
		event.Error = runErr.Error()
		var stageErr *StageError
		if errors.As(runErr, &stageErr) {
			event.Stage = string(stageErr.Stage)
		}
	}
	_ = a.Notifier.Notify(context.Background(), event)
}

// nameSequencer disambiguates repeated names within one planning pass,
// where nothing is uploaded yet and resolveArchiveName has no committed
// keys to advance past.
type nameSequencer struct {
	seen map[string]int
}

func newNameSequencer() *nameSequencer {
	return &nameSequencer{seen: map[string]int{}}
}

func (n *nameSequencer) unique(name string) string {
	n.seen[name]++
	if count := n.seen[name]; count > 1 {
		return fmt.Sprintf("%s-p%02d", name, count)
	}
	return name
}
