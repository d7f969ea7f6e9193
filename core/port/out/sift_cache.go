package out

import (
	"context"
	"time"
)

// Cache is the outbound port for the inference result cache. It is an
// injected service with explicit TTLs, never ambient global state.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
