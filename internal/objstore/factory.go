package objstore

import (
	"fmt"

	"github.com/rowjay/tier-archiver/internal/config"
)

// New builds the configured object-store backend.
func New(cfg config.SourceConfig) (Store, error) {
	switch cfg.Backend {
	case "s3", "":
		if cfg.S3.Endpoint == "" || cfg.Bucket == "" {
			return nil, fmt.Errorf("source.s3.endpoint and source.bucket are required")
		}
		return NewS3(cfg.S3.Endpoint, cfg.S3.Region, cfg.Bucket, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.SessionToken, cfg.S3.UseSSL, cfg.S3.ForcePathStyle, cfg.S3.TLSInsecureSkip)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported source backend: %s", cfg.Backend)
	}
}
