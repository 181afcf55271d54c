// Package archive bundles a fetched segment into one archive unit and
// ships it to the archival tier.
package archive

import (
	"archive/tar"
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"

	"github.com/rowjay/tier-archiver/internal/cryptoutil"
	"github.com/rowjay/tier-archiver/internal/segment"
)

const (
	FormatZip     = "zip"
	FormatTarZstd = "tar.zst"
)

// Descriptor identifies one built archive and the exact member set it
// carries. MemberKeys equals the driving segment's keys, in order; the
// sweep deletes exactly these keys, nothing else.
type Descriptor struct {
	Name           string
	DestinationKey string
	MemberKeys     []string
}

// CompressError marks a bundling failure (missing or unreadable member).
type CompressError struct {
	Path string
	Err  error
}

func (e *CompressError) Error() string {
	return fmt.Sprintf("compress %q: %v", e.Path, e.Err)
}

func (e *CompressError) Unwrap() error { return e.Err }

// Build writes the segment's local mirror into a single archive at
// outPath. Member names are each record's relative path and member order
// is segment order, so the same segment always produces the same layout.
// A non-nil encKey encrypts the archive stream at rest.
func Build(seg *segment.Segment, localRoot, outPath, format string, encKey []byte) (*Descriptor, error) {
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, &CompressError{Path: outPath, Err: err}
	}

	var sink io.Writer = out
	closers := []io.Closer{out}
	if encKey != nil {
		enc, encErr := cryptoutil.EncryptWriter(out, encKey)
		if encErr != nil {
			out.Close()
			return nil, &CompressError{Path: outPath, Err: encErr}
		}
		sink = enc
		closers = append([]io.Closer{enc}, closers...)
	}

	var bundleErr error
	switch format {
	case FormatZip, "":
		bundleErr = writeZip(sink, seg, localRoot)
	case FormatTarZstd:
		bundleErr = writeTarZstd(sink, seg, localRoot)
	default:
		bundleErr = fmt.Errorf("unsupported archive format: %s", format)
	}

	for _, c := range closers {
		if cerr := c.Close(); cerr != nil && bundleErr == nil {
			bundleErr = &CompressError{Path: outPath, Err: cerr}
		}
	}
	if bundleErr != nil {
		os.Remove(outPath)
		return nil, bundleErr
	}
	return &Descriptor{Name: filepath.Base(outPath), MemberKeys: seg.Keys()}, nil
}

func writeZip(w io.Writer, seg *segment.Segment, localRoot string) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})
	for _, rec := range seg.Records {
		src := filepath.Join(localRoot, filepath.FromSlash(rec.RelativePath))
		f, err := os.Open(src)
		if err != nil {
			zw.Close()
			return &CompressError{Path: src, Err: err}
		}
		hdr := &zip.FileHeader{
			Name:     rec.RelativePath,
			Method:   zip.Deflate,
			Modified: rec.LastModified,
		}
		member, err := zw.CreateHeader(hdr)
		if err == nil {
			_, err = io.Copy(member, f)
		}
		f.Close()
		if err != nil {
			zw.Close()
			return &CompressError{Path: src, Err: err}
		}
	}
	return zw.Close()
}

func writeTarZstd(w io.Writer, seg *segment.Segment, localRoot string) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)
	for _, rec := range seg.Records {
		src := filepath.Join(localRoot, filepath.FromSlash(rec.RelativePath))
		f, err := os.Open(src)
		if err != nil {
			tw.Close()
			zw.Close()
			return &CompressError{Path: src, Err: err}
		}
		info, err := f.Stat()
		if err == nil {
			err = tw.WriteHeader(&tar.Header{
				Name:    rec.RelativePath,
				Mode:    0o644,
				Size:    info.Size(),
				ModTime: rec.LastModified,
			})
		}
		if err == nil {
			_, err = io.Copy(tw, f)
		}
		f.Close()
		if err != nil {
			tw.Close()
			zw.Close()
			return &CompressError{Path: src, Err: err}
		}
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}
