package artifact

import (
	"context"
	"fmt"
)

// Supported storage drivers
const (
	DriverMinio  = "minio"
	DriverS3     = "s3"
	DriverMemory = "memory"
)

// New creates a store for the named driver
func New(ctx context.Context, driver string, opts Options) (Store, error) {
	switch driver {
	case DriverMinio, "":
		return NewMinioStore(opts)
	case DriverS3:
		return NewS3Store(ctx, opts)
	case DriverMemory:
		return NewMemoryStore(opts.PublicURL), nil
	default:
		return nil, fmt.Errorf("artifact: unknown storage driver %q", driver)
	}
}
