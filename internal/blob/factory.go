package blob

import (
	"context"
	"fmt"

	"triagetree/internal/infra/blob/fs"
	"triagetree/internal/infra/blob/memory"
	"triagetree/internal/infra/blob/s3"
)

// S3Config selects the bucket used by the s3 driver. Credentials fall back to
// the default AWS chain when the key pair is empty.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

// Config selects a blob backend.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open returns the Store described by cfg. An empty driver selects memory.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return memory.New(), nil
	case DriverFilesystem:
		store, err := fs.New(cfg.FSRoot)
		if err != nil {
			return nil, fmt.Errorf("open fs blob store: %w", err)
		}
		return store, nil
	case DriverS3:
		store, err := s3.New(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 blob store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
