package objstore

import (
	"context"
	"crypto/tls"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3 talks to any S3-compatible endpoint through minio-go.
type S3 struct {
	Client *minio.Client
	Bucket string
}

func NewS3(endpoint, region, bucket, accessKey, secretKey, sessionToken string, useSSL, forcePathStyle, insecure bool) (*S3, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(accessKey, secretKey, sessionToken),
		Secure:    useSSL,
		Region:    region,
		Transport: transport,
		BucketLookup: func() minio.BucketLookupType {
			if forcePathStyle {
				return minio.BucketLookupPath
			}
			return minio.BucketLookupDNS
		}(),
	})
	if err != nil {
		return nil, err
	}
	return &S3{Client: client, Bucket: bucket}, nil
}

func (s *S3) List(ctx context.Context, opts ListOptions) <-chan ListEntry {
	out := make(chan ListEntry)
	go func() {
		defer close(out)
		ch := s.Client.ListObjects(ctx, s.Bucket, minio.ListObjectsOptions{
			Prefix:     opts.Prefix,
			Recursive:  true,
			StartAfter: opts.StartAfter,
		})
		for obj := range ch {
			if obj.Err != nil {
				select {
				case out <- ListEntry{Err: &Error{Op: "List", Key: opts.Prefix, Err: obj.Err}}:
				case <-ctx.Done():
				}
				return
			}
			entry := ListEntry{ObjectInfo: ObjectInfo{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified}}
			select {
			case out <- entry:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (s *S3) Download(ctx context.Context, key, localPath string) error {
	if err := s.Client.FGetObject(ctx, s.Bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		return &Error{Op: "Download", Key: key, Err: err}
	}
	return nil
}

func (s *S3) Upload(ctx context.Context, localPath, key string, opts UploadOptions) error {
	putOpts := minio.PutObjectOptions{
		StorageClass: opts.StorageClass,
		ContentType:  opts.ContentType,
	}
	if _, err := s.Client.FPutObject(ctx, s.Bucket, key, localPath, putOpts); err != nil {
		return &Error{Op: "Upload", Key: key, Err: err}
	}
	return nil
}

func (s *S3) Remove(ctx context.Context, keys []string) ([]string, error) {
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, key := range keys {
		objectsCh <- minio.ObjectInfo{Key: key}
	}
	close(objectsCh)

	failed := map[string]bool{}
	for rerr := range s.Client.RemoveObjects(ctx, s.Bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil {
			failed[rerr.ObjectName] = true
		}
	}

	confirmed := make([]string, 0, len(keys))
	for _, key := range keys {
		if !failed[key] {
			confirmed = append(confirmed, key)
		}
	}
	return confirmed, nil
}

func (s *S3) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	stat, err := s.Client.StatObject(ctx, s.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return ObjectInfo{}, &Error{Op: "Stat", Key: key, Err: ErrNotFound}
		}
		return ObjectInfo{}, &Error{Op: "Stat", Key: key, Err: err}
	}
	return ObjectInfo{Key: key, Size: stat.Size, LastModified: stat.LastModified}, nil
}

func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Client.StatObject(ctx, s.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
