package checkpoint

import (
	"context"
	"fmt"

	"github.com/rowjay/tier-archiver/internal/config"
)

// New builds the configured checkpoint backend.
func New(ctx context.Context, cfg config.CheckpointConfig) (Store, error) {
	switch cfg.Backend {
	case "file", "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("checkpoint.path is required for the file backend")
		}
		return NewFile(cfg.Path), nil
	case "mongo":
		if cfg.Mongo.URI == "" || cfg.Mongo.Database == "" || cfg.Mongo.Collection == "" {
			return nil, fmt.Errorf("checkpoint.mongo uri, database, and collection are required")
		}
		return NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
	default:
		return nil, fmt.Errorf("unsupported checkpoint backend: %s", cfg.Backend)
	}
}
