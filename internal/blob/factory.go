package blob

import (
	"context"
	"fmt"

	"varianthunter/internal/config"
	"varianthunter/internal/infra/blob/fs"
	"varianthunter/internal/infra/blob/memory"
	"varianthunter/internal/infra/blob/s3"
)

// Open selects a Store implementation from the export configuration. An
// empty driver defaults to the filesystem.
func Open(ctx context.Context, cfg config.ExportConfig) (Store, error) {
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverS3:
		return s3.New(ctx, s3.Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			SessionToken:    cfg.S3.SessionToken,
			PathStyle:       cfg.S3.PathStyle,
		})
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// NewMemory returns an in-process store.
func NewMemory() Store { return memory.New() }
