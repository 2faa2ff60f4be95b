package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache is the generic read-side cache interface.
type Cache interface {
	// Set stores a JSON-marshalable value with an expiration.
	Set(ctx context.Context, key string, value any, expiration time.Duration) error

	// Get retrieves a value into target, which must be a pointer.
	// Returns ErrCacheMiss when the key does not exist.
	Get(ctx context.Context, key string, target any) error

	// Del removes one or more keys.
	Del(ctx context.Context, keys ...string) error

	// Exists reports whether the key is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// SessionStatusKey addresses the cached status document of one upload
// session; invalidated on every session mutation.
func SessionStatusKey(sessionID string) string {
	return fmt.Sprintf("upload:session:%s:status", sessionID)
}
