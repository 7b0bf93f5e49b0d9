package store

import (
	"context"
	"fmt"

	"canonical-go/internal/canonical"
	"canonical-go/internal/config"
)

// NewStoreFromConfig creates a ResourceStore implementation based on the
// store config type.
func NewStoreFromConfig(ctx context.Context, cfg config.StoreConfig) (canonical.ResourceStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "s3":
		return NewS3Store(ctx, cfg)
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem store requires root to be set")
		}
		return NewFileSystemStore(cfg.Root)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}
