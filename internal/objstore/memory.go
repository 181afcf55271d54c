package objstore

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-memory Store used by tests and local dry runs. Listing
// order is lexicographic by key, matching S3 semantics.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject

	// FailDownload maps keys to errors injected on Download.
	FailDownload map[string]error
	// FailList, when set, is returned once as the listing error after
	// FailListAfter entries have been delivered.
	FailList      error
	FailListAfter int
	// RefuseRemove maps keys to the number of Remove calls that will
	// leave the key unconfirmed before deletions start succeeding.
	RefuseRemove map[string]int

	// RemoveCalls counts bulk delete invocations.
	RemoveCalls int
	// RemoveBatchSizes records the size of each bulk delete request.
	RemoveBatchSizes []int
	// Uploads records keys uploaded, in order, with their storage class.
	Uploads []UploadRecord
}

type memObject struct {
	data     []byte
	modified time.Time
}

// UploadRecord captures one Upload call for assertions.
type UploadRecord struct {
	Key          string
	StorageClass string
	Size         int64
}

func NewMemory() *Memory {
	return &Memory{
		objects:      make(map[string]memObject),
		FailDownload: make(map[string]error),
		RefuseRemove: make(map[string]int),
	}
}

// Seed stores an object with explicit content and modification time.
func (m *Memory) Seed(key string, data []byte, modified time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: data, modified: modified}
}

// SeedSized stores an object of the given size filled with zero bytes.
func (m *Memory) SeedSized(key string, size int64, modified time.Time) {
	m.Seed(key, make([]byte, size), modified)
}

// Keys returns all stored keys in listing order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Memory) List(ctx context.Context, opts ListOptions) <-chan ListEntry {
	m.mu.RLock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, opts.Prefix) && k > opts.StartAfter {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	entries := make([]ListEntry, 0, len(keys))
	for _, k := range keys {
		obj := m.objects[k]
		entries = append(entries, ListEntry{ObjectInfo: ObjectInfo{Key: k, Size: int64(len(obj.data)), LastModified: obj.modified}})
	}
	failErr := m.FailList
	failAfter := m.FailListAfter
	m.mu.RUnlock()

	out := make(chan ListEntry)
	go func() {
		defer close(out)
		for i, entry := range entries {
			if failErr != nil && i >= failAfter {
				m.mu.Lock()
				m.FailList = nil // one-shot fault
				m.mu.Unlock()
				out <- ListEntry{Err: &Error{Op: "List", Key: opts.Prefix, Err: failErr}}
				return
			}
			select {
			case out <- entry:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (m *Memory) Download(ctx context.Context, key, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	injected := m.FailDownload[key]
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if injected != nil {
		return &Error{Op: "Download", Key: key, Err: injected}
	}
	if !ok {
		return &Error{Op: "Download", Key: key, Err: ErrNotFound}
	}
	return os.WriteFile(localPath, obj.data, 0o600)
}

func (m *Memory) Upload(ctx context.Context, localPath, key string, opts UploadOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return &Error{Op: "Upload", Key: key, Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: data, modified: time.Now()}
	m.Uploads = append(m.Uploads, UploadRecord{Key: key, StorageClass: opts.StorageClass, Size: int64(len(data))})
	return nil
}

func (m *Memory) Remove(ctx context.Context, keys []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(keys) > BulkDeleteLimit {
		return nil, fmt.Errorf("bulk delete of %d keys exceeds limit %d", len(keys), BulkDeleteLimit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RemoveCalls++
	m.RemoveBatchSizes = append(m.RemoveBatchSizes, len(keys))
	confirmed := make([]string, 0, len(keys))
	for _, key := range keys {
		if left := m.RefuseRemove[key]; left > 0 {
			m.RefuseRemove[key] = left - 1
			continue
		}
		delete(m.objects, key)
		confirmed = append(confirmed, key)
	}
	return confirmed, nil
}

func (m *Memory) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, &Error{Op: "Stat", Key: key, Err: ErrNotFound}
	}
	return ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.modified}, nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}
