package app

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/tier-archiver/internal/checkpoint"
	"github.com/rowjay/tier-archiver/internal/config"
	"github.com/rowjay/tier-archiver/internal/metastore"
	"github.com/rowjay/tier-archiver/internal/objstore"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Global: config.GlobalConfig{
			LockFile: filepath.Join(dir, "tiera.lock"),
		},
		Source: config.SourceConfig{
			Backend: "memory",
			Bucket:  "hot-bucket",
			Prefix:  "hot/images",
		},
		Batch: config.BatchConfig{
			Mode:        "listing",
			Size:        2,
			ListRetries: 2,
			ListBackoff: time.Millisecond,
		},
		Fetch: config.FetchConfig{
			Concurrency: 2,
			ScratchDir:  filepath.Join(dir, "scratch"),
		},
		Archive: config.ArchiveConfig{
			DestinationPrefix: "cold",
			StorageClass:      "DEEP_ARCHIVE",
			Format:            "zip",
			SegmentBytes:      250,
		},
		Sweep: config.SweepConfig{
			BatchSize:    objstore.BulkDeleteLimit,
			RetryCount:   1,
			RetryBackoff: time.Millisecond,
		},
		Checkpoint: config.CheckpointConfig{
			Backend: "file",
			Path:    filepath.Join(dir, "checkpoints.jsonl"),
		},
	}
}

func newTestApp(cfg *config.Config, store objstore.Store) *App {
	return New(cfg, store, checkpoint.NewFile(cfg.Checkpoint.Path), nil, zerolog.Nop(), nil)
}

func seedObjects(store *objstore.Memory, n int, size int64) []string {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		key := "hot/images/" + string(rune('a'+i)) + ".jpg"
		store.SeedSized(key, size, base.AddDate(0, 0, i))
		keys[i] = key
	}
	return keys
}

func readCheckpoints(t *testing.T, path string) []checkpoint.Record {
	t.Helper()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		t.Fatalf("read checkpoint file: %v", err)
	}
	var recs []checkpoint.Record
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var rec checkpoint.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("parse checkpoint line %q: %v", line, err)
		}
		recs = append(recs, rec)
	}
	return recs
}

func TestRunCommitsSegmentsAndAdvancesCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	store := objstore.NewMemory()
	keys := seedObjects(store, 5, 100) // 250-byte budget packs 2+2+1

	app := newTestApp(cfg, store)
	res, err := app.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Segments != 3 {
		t.Fatalf("committed %d segments, want 3", res.Segments)
	}
	if res.Objects != 5 || res.Bytes != 500 {
		t.Fatalf("got %d objects / %d bytes, want 5 / 500", res.Objects, res.Bytes)
	}

	for _, key := range keys {
		if ok, _ := store.Exists(context.Background(), key); ok {
			t.Errorf("original %s survived a committed segment", key)
		}
	}
	if len(store.Uploads) != 3 {
		t.Fatalf("recorded %d uploads, want 3", len(store.Uploads))
	}
	for _, up := range store.Uploads {
		if !strings.HasPrefix(up.Key, "cold/") || !strings.HasSuffix(up.Key, ".zip") {
			t.Errorf("archive landed at %s, want cold/*.zip", up.Key)
		}
		if up.StorageClass != "DEEP_ARCHIVE" {
			t.Errorf("archive %s uploaded as %s", up.Key, up.StorageClass)
		}
	}

	recs := readCheckpoints(t, cfg.Checkpoint.Path)
	if len(recs) != 3 {
		t.Fatalf("appended %d checkpoint records, want 3", len(recs))
	}
	if got := recs[len(recs)-1].LastID; got != keys[len(keys)-1] {
		t.Errorf("final cursor %q, want %q", got, keys[len(keys)-1])
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].LastID <= recs[i-1].LastID {
			t.Errorf("cursor did not advance: %q then %q", recs[i-1].LastID, recs[i].LastID)
		}
	}

	entries, err := os.ReadDir(cfg.Fetch.ScratchDir)
	if err != nil {
		t.Fatalf("read scratch dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch not cleaned, %d entries remain", len(entries))
	}
}

func TestRunIsIdempotentAfterCommit(t *testing.T) {
	cfg := testConfig(t)
	store := objstore.NewMemory()
	seedObjects(store, 4, 100)

	app := newTestApp(cfg, store)
	if _, err := app.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := readCheckpoints(t, cfg.Checkpoint.Path)

	res, err := app.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Segments != 0 {
		t.Errorf("re-run committed %d segments, want 0", res.Segments)
	}
	if after := readCheckpoints(t, cfg.Checkpoint.Path); len(after) != len(before) {
		t.Errorf("re-run appended %d extra checkpoint records", len(after)-len(before))
	}
	if len(store.Uploads) != 2 {
		t.Errorf("re-run changed the upload count, now %d", len(store.Uploads))
	}
}

func TestRunEmptySourceDoesNothing(t *testing.T) {
	cfg := testConfig(t)
	store := objstore.NewMemory()

	app := newTestApp(cfg, store)
	res, err := app.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Segments != 0 || res.Objects != 0 {
		t.Errorf("empty source produced %d segments / %d objects", res.Segments, res.Objects)
	}
	if recs := readCheckpoints(t, cfg.Checkpoint.Path); len(recs) != 0 {
		t.Errorf("empty source appended %d checkpoint records", len(recs))
	}
}

func TestRunFetchFailureAbortsBeforeUpload(t *testing.T) {
	cfg := testConfig(t)
	store := objstore.NewMemory()
	keys := seedObjects(store, 2, 100)
	store.FailDownload[keys[1]] = errors.New("connection reset")

	app := newTestApp(cfg, store)
	_, err := app.Run(context.Background())
	if err == nil {
		t.Fatal("Run succeeded despite a fetch failure")
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageFetch {
		t.Fatalf("got %v, want a fetch stage error", err)
	}

	if len(store.Uploads) != 0 {
		t.Errorf("aborted segment still uploaded %d archives", len(store.Uploads))
	}
	for _, key := range keys {
		if ok, _ := store.Exists(context.Background(), key); !ok {
			t.Errorf("original %s deleted without a committed archive", key)
		}
	}
	if recs := readCheckpoints(t, cfg.Checkpoint.Path); len(recs) != 0 {
		t.Errorf("aborted run appended %d checkpoint records", len(recs))
	}
	entries, err := os.ReadDir(cfg.Fetch.ScratchDir)
	if err != nil {
		t.Fatalf("read scratch dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("aborted segment left %d scratch entries", len(entries))
	}
}

func TestRunDeleteMismatchBlocksCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	store := objstore.NewMemory()
	keys := seedObjects(store, 2, 100)
	store.RefuseRemove[keys[0]] = 10 // outlast every retry

	app := newTestApp(cfg, store)
	_, err := app.Run(context.Background())
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageSweep {
		t.Fatalf("got %v, want a sweep stage error", err)
	}
	if recs := readCheckpoints(t, cfg.Checkpoint.Path); len(recs) != 0 {
		t.Errorf("unconfirmed delete still advanced the checkpoint, %d records", len(recs))
	}
}

// failingUploadStore refuses every upload while delegating the rest.
type failingUploadStore struct {
	*objstore.Memory
	uploadErr error
}

func (s *failingUploadStore) Upload(ctx context.Context, localPath, key string, opts objstore.UploadOptions) error {
	return s.uploadErr
}

func TestRunUploadFailureRetainsArchive(t *testing.T) {
	cfg := testConfig(t)
	mem := objstore.NewMemory()
	keys := seedObjects(mem, 2, 100)
	store := &failingUploadStore{Memory: mem, uploadErr: errors.New("slow down")}

	app := newTestApp(cfg, store)
	_, err := app.Run(context.Background())
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageArchive {
		t.Fatalf("got %v, want an archive stage error", err)
	}

	retained, readErr := os.ReadDir(filepath.Join(cfg.Fetch.ScratchDir, "retained"))
	if readErr != nil {
		t.Fatalf("read retained dir: %v", readErr)
	}
	if len(retained) != 1 {
		t.Fatalf("retained %d archives, want 1", len(retained))
	}
	if name := retained[0].Name(); !strings.HasSuffix(name, ".zip") {
		t.Errorf("retained file %s is not the built archive", name)
	}
	for _, key := range keys {
		if ok, _ := mem.Exists(context.Background(), key); !ok {
			t.Errorf("original %s deleted despite the failed upload", key)
		}
	}
}

// sliceMeta serves metadata batches from a fixed, id-sorted slice.
type sliceMeta struct {
	ids []string
}

func (s *sliceMeta) NextBatch(ctx context.Context, afterID string, limit int64) ([]metastore.Item, error) {
	var out []metastore.Item
	for _, id := range s.ids {
		if id <= afterID {
			continue
		}
		out = append(out, metastore.Item{ID: id})
		if int64(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func TestRunMetadataModeCheckpointsPerBatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.Batch.Mode = "metadata"
	store := objstore.NewMemory()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"u001", "u002", "u003"} {
		store.SeedSized("hot/images/"+id+"/front.jpg", 80, base)
		store.SeedSized("hot/images/"+id+"/side.jpg", 80, base.AddDate(0, 0, 1))
	}
	// unrelated id must stay untouched
	store.SeedSized("hot/images/u999x/front.jpg", 80, base)
	meta := &sliceMeta{ids: []string{"u001", "u002", "u003"}}

	app := New(cfg, store, checkpoint.NewFile(cfg.Checkpoint.Path), meta, zerolog.Nop(), nil)
	res, err := app.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Objects != 6 {
		t.Fatalf("archived %d objects, want 6", res.Objects)
	}

	recs := readCheckpoints(t, cfg.Checkpoint.Path)
	if len(recs) != 2 {
		t.Fatalf("appended %d checkpoint records, want one per batch (2)", len(recs))
	}
	if recs[0].FirstID != "u001" || recs[0].LastID != "u002" {
		t.Errorf("first batch cursor %q..%q, want u001..u002", recs[0].FirstID, recs[0].LastID)
	}
	if recs[1].FirstID != "u003" || recs[1].LastID != "u003" {
		t.Errorf("second batch cursor %q..%q, want u003..u003", recs[1].FirstID, recs[1].LastID)
	}
	if recs[0].TotalCount != 4 || recs[1].TotalCount != 2 {
		t.Errorf("batch counts %d/%d, want 4/2", recs[0].TotalCount, recs[1].TotalCount)
	}

	if ok, _ := store.Exists(context.Background(), "hot/images/u999x/front.jpg"); !ok {
		t.Error("object outside the batch identifiers was deleted")
	}
}

func TestRerunAfterAbortNeverReusesDestinationKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.SegmentBytes = 100 // one object per segment
	store := objstore.NewMemory()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store.SeedSized("hot/images/a.jpg", 100, day)
	store.SeedSized("hot/images/b.jpg", 100, day)
	store.FailDownload["hot/images/b.jpg"] = errors.New("connection reset")

	app := newTestApp(cfg, store)
	if _, err := app.Run(context.Background()); err == nil {
		t.Fatal("first run should abort on the second segment")
	}
	if len(store.Uploads) != 1 {
		t.Fatalf("first run uploaded %d archives, want 1", len(store.Uploads))
	}
	firstKey := store.Uploads[0].Key
	firstInfo, err := store.Stat(context.Background(), firstKey)
	if err != nil {
		t.Fatalf("stat committed archive: %v", err)
	}

	// Both segments share a modification date, so the second run's archive
	// regenerates the same base name as the committed one.
	delete(store.FailDownload, "hot/images/b.jpg")
	if _, err := app.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(store.Uploads) != 2 {
		t.Fatalf("have %d uploads after the second run, want 2", len(store.Uploads))
	}
	if secondKey := store.Uploads[1].Key; secondKey == firstKey {
		t.Fatalf("second run reused destination key %q and overwrote the committed archive", secondKey)
	}
	after, err := store.Stat(context.Background(), firstKey)
	if err != nil {
		t.Fatalf("committed archive gone: %v", err)
	}
	if after.Size != firstInfo.Size || !after.LastModified.Equal(firstInfo.LastModified) {
		t.Fatal("committed archive was overwritten")
	}
}

// truncatingUploadStore stores every upload one byte short, so the
// post-upload size verification must fail.
type truncatingUploadStore struct {
	*objstore.Memory
}

func (s *truncatingUploadStore) Upload(ctx context.Context, localPath, key string, opts objstore.UploadOptions) error {
	if err := s.Memory.Upload(ctx, localPath, key, opts); err != nil {
		return err
	}
	info, err := s.Memory.Stat(ctx, key)
	if err != nil {
		return err
	}
	s.Memory.Seed(key, make([]byte, info.Size-1), info.LastModified)
	return nil
}

func TestRunVerifyFailureRetainsArchiveAndAborts(t *testing.T) {
	cfg := testConfig(t)
	mem := objstore.NewMemory()
	keys := seedObjects(mem, 2, 100)
	store := &truncatingUploadStore{Memory: mem}

	app := newTestApp(cfg, store)
	_, err := app.Run(context.Background())
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageArchive {
		t.Fatalf("got %v, want an archive stage error", err)
	}

	retained, readErr := os.ReadDir(filepath.Join(cfg.Fetch.ScratchDir, "retained"))
	if readErr != nil {
		t.Fatalf("read retained dir: %v", readErr)
	}
	if len(retained) != 1 {
		t.Fatalf("retained %d archives, want 1", len(retained))
	}
	for _, key := range keys {
		if ok, _ := mem.Exists(context.Background(), key); !ok {
			t.Errorf("original %s deleted despite an unverified upload", key)
		}
	}
	if recs := readCheckpoints(t, cfg.Checkpoint.Path); len(recs) != 0 {
		t.Errorf("unverified upload advanced the checkpoint, %d records", len(recs))
	}
	entries, err := os.ReadDir(cfg.Fetch.ScratchDir)
	if err != nil {
		t.Fatalf("read scratch dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "retained" {
		t.Errorf("scratch not cleaned outside retained/: %v", entries)
	}
}

// stuckCheckpointStore fails every append while reporting an empty tail.
type stuckCheckpointStore struct{}

func (stuckCheckpointStore) ReadLast(ctx context.Context) (*checkpoint.Record, error) {
	return nil, nil
}

func (stuckCheckpointStore) Append(ctx context.Context, rec checkpoint.Record) error {
	return &checkpoint.WriteError{Err: errors.New("disk full")}
}

func TestRunCheckpointWriteFailureIsFatal(t *testing.T) {
	cfg := testConfig(t)
	store := objstore.NewMemory()
	seedObjects(store, 4, 100) // packs two segments

	app := New(cfg, store, stuckCheckpointStore{}, nil, zerolog.Nop(), nil)
	res, err := app.Run(context.Background())
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageCheckpoint {
		t.Fatalf("got %v, want a checkpoint stage error", err)
	}
	var werr *checkpoint.WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("stage error does not wrap the write failure: %v", err)
	}
	if res.Segments != 0 {
		t.Errorf("counted %d committed segments after a failed checkpoint write", res.Segments)
	}
	if len(store.Uploads) != 1 {
		t.Errorf("run continued past the failed checkpoint write, %d uploads", len(store.Uploads))
	}
}

func TestPlanReportsSegmentsWithoutSideEffects(t *testing.T) {
	cfg := testConfig(t)
	store := objstore.NewMemory()
	keys := seedObjects(store, 5, 100)

	app := newTestApp(cfg, store)
	planned, err := app.Plan(context.Background())
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(planned) != 3 {
		t.Fatalf("planned %d segments, want 3", len(planned))
	}
	if planned[0].Objects != 2 || planned[0].Bytes != 200 {
		t.Errorf("first segment %d objects / %d bytes, want 2 / 200", planned[0].Objects, planned[0].Bytes)
	}
	if planned[2].LastKey != keys[len(keys)-1] {
		t.Errorf("last planned key %q, want %q", planned[2].LastKey, keys[len(keys)-1])
	}

	if len(store.Uploads) != 0 || store.RemoveCalls != 0 {
		t.Error("planning touched the store")
	}
	if recs := readCheckpoints(t, cfg.Checkpoint.Path); len(recs) != 0 {
		t.Errorf("planning appended %d checkpoint records", len(recs))
	}
}

func TestValidateCatchesBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.DestinationPrefix = "" // required
	store := objstore.NewMemory()

	app := newTestApp(cfg, store)
	if err := app.Validate(context.Background()); err == nil {
		t.Fatal("Validate accepted a config without a destination prefix")
	}
}
