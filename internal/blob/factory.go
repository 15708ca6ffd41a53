package blob

import (
	"context"
	"fmt"
)

// Store types.
const (
	TypeMemory     = "memory"
	TypeFileSystem = "filesystem"
	TypeS3         = "s3"
)

// Config selects and configures a Store backend.
type Config struct {
	Type    string
	Root    string // filesystem root
	BaseURL string // URL prefix for memory and filesystem objects
	S3      S3Config
}

// NewFromConfig creates a Store for the configured backend type.
func NewFromConfig(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case TypeMemory, "":
		return NewMemoryStore(cfg.BaseURL), nil
	case TypeFileSystem:
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem store requires a root directory")
		}
		return NewFileSystemStore(cfg.Root, cfg.BaseURL)
	case TypeS3:
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.Type)
	}
}
