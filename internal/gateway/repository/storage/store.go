package storage

import (
	"context"
	"time"
)

// Store is the artifact/result-cache surface the orchestration layer sees.
type Store interface {
	Exists(ctx context.Context, object string) bool
	SignedGetURL(ctx context.Context, object string, expiry time.Duration) (string, error)
	SignedPutURL(ctx context.Context, object string, expiry time.Duration) (string, error)
}
