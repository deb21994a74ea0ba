package dedup

import (
	"context"
	"time"

	"github.com/rpattn/sheetpipe/internal/domain"
)

const (
	// KeyPrefix namespaces fingerprints in the shared store.
	KeyPrefix = "dedup:row:"
	// DefaultTTL is how long a fingerprint is remembered when none is configured.
	DefaultTTL = 24 * time.Hour
)

// Gate answers whether a payload has been seen within the TTL window.
type Gate struct {
	store  Store
	ttl    time.Duration
	atomic bool
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithTTL sets the fingerprint expiry.
func WithTTL(ttl time.Duration) GateOption {
	return func(g *Gate) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithAtomic makes CheckAndMark a single set-if-absent call, which is safe
// when several workers share the store.
func WithAtomic(enabled bool) GateOption {
	return func(g *Gate) {
		g.atomic = enabled
	}
}

// NewGate creates a gate backed by store.
func NewGate(store Store, opts ...GateOption) *Gate {
	g := &Gate{store: store, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TTL returns the configured expiry window.
func (g *Gate) TTL() time.Duration {
	return g.ttl
}

// CheckAndMark returns true when payload is new and records it. A duplicate
// returns false and leaves the existing expiry untouched.
func (g *Gate) CheckAndMark(ctx context.Context, payload domain.Payload) (bool, error) {
	fingerprint, err := Fingerprint(payload)
	if err != nil {
		return false, err
	}
	key := KeyPrefix + fingerprint

	if g.atomic {
		return g.store.SetIfAbsent(ctx, key, "1", g.ttl)
	}

	seen, err := g.store.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}
	if err := g.store.SetWithExpiry(ctx, key, "1", g.ttl); err != nil {
		return false, err
	}
	return true, nil
}

// Forget drops the fingerprint for payload so it is treated as new again.
func (g *Gate) Forget(ctx context.Context, payload domain.Payload) error {
	fingerprint, err := Fingerprint(payload)
	if err != nil {
		return err
	}
	return g.store.Delete(ctx, KeyPrefix+fingerprint)
}
