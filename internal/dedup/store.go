package dedup

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable wraps failures talking to the key/value store.
var ErrStoreUnavailable = errors.New("dedup store unavailable")

// Store is the key/value surface the gate needs. Implementations wrap
// transport failures in ErrStoreUnavailable.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error
	// SetIfAbsent stores key only when it is missing and reports whether it did.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Get returns the value and false when the key does not exist.
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
}
