package archive

import (
	"context"
	"fmt"

	"github.com/rowjay/tier-archiver/internal/objstore"
)

// UploadError marks a failed transfer to the archival tier. The local
// archive file must be retained for manual retry when this is returned.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %q: %v", e.Key, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Upload ships the archive file to destKey under the configured cold
// storage class. The originals must not be deleted until this returns nil.
func Upload(ctx context.Context, store objstore.Store, archivePath, destKey, storageClass, format string) error {
	if err := store.Upload(ctx, archivePath, destKey, objstore.UploadOptions{
		StorageClass: storageClass,
		ContentType:  contentType(format),
	}); err != nil {
		return &UploadError{Key: destKey, Err: err}
	}
	return nil
}

func contentType(format string) string {
	switch format {
	case FormatTarZstd:
		return "application/zstd"
	default:
		return "application/zip"
	}
}
