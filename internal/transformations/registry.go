package transformations

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rpattn/sheetpipe/internal/domain"
)

// DefaultType is the tag used when a job's type has no registered transform.
const DefaultType = domain.DefaultUploadType

// ErrNoTransform is returned when neither the requested tag nor the default is registered.
var ErrNoTransform = errors.New("no transform registered")

// Transform rewrites one row payload. Implementations must not touch the store.
type Transform interface {
	Transform(payload domain.Payload) (domain.Payload, error)
}

// TransformFunc adapts a plain function to Transform.
type TransformFunc func(payload domain.Payload) (domain.Payload, error)

// Transform calls f(payload).
func (f TransformFunc) Transform(payload domain.Payload) (domain.Payload, error) {
	return f(payload)
}

// Registry maps type tags to transforms. Populate it before handing it to the
// processing pipeline; it is read-only afterwards.
type Registry struct {
	transforms map[string]Transform
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{transforms: make(map[string]Transform)}
}

// Register binds tag to transform.
func (r *Registry) Register(tag string, transform Transform) error {
	if tag == "" {
		return errors.New("transform tag is required")
	}
	if transform == nil {
		return fmt.Errorf("transform for %q is nil", tag)
	}
	if _, exists := r.transforms[tag]; exists {
		return fmt.Errorf("transform for %q already registered", tag)
	}
	r.transforms[tag] = transform
	return nil
}

// Resolve returns the transform for tag, falling back to the default. The
// returned tag names the transform that was actually selected.
func (r *Registry) Resolve(tag string) (Transform, string, error) {
	if transform, ok := r.transforms[tag]; ok {
		return transform, tag, nil
	}
	if transform, ok := r.transforms[DefaultType]; ok {
		return transform, DefaultType, nil
	}
	return nil, "", fmt.Errorf("%w for type %q", ErrNoTransform, tag)
}

// Types lists the registered tags in sorted order.
func (r *Registry) Types() []string {
	tags := make([]string, 0, len(r.transforms))
	for tag := range r.transforms {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
