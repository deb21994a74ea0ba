package transformations

import (
	"fmt"
	"strings"

	"github.com/rpattn/sheetpipe/internal/domain"
)

// Built-in type tags.
const (
	Type1 = "type1"
	Type2 = "type2"
)

// Builtin returns a registry with the default, type1 and type2 transforms.
func Builtin() *Registry {
	r := NewRegistry()
	mustRegister(r, DefaultType, TransformFunc(Passthrough))
	mustRegister(r, Type1, TransformFunc(TrimStrings))
	mustRegister(r, Type2, TransformFunc(CoerceScalars))
	return r
}

// mustRegister panics when a built-in registration is rejected.
func mustRegister(r *Registry, tag string, transform Transform) {
	if err := r.Register(tag, transform); err != nil {
		panic(fmt.Sprintf("register built-in transform %q: %v", tag, err))
	}
}

// Passthrough returns the payload unchanged.
func Passthrough(payload domain.Payload) (domain.Payload, error) {
	return payload, nil
}

// TrimStrings strips surrounding whitespace from string values.
func TrimStrings(payload domain.Payload) (domain.Payload, error) {
	out := domain.NewPayload(payload.Len())
	for _, key := range payload.Keys() {
		value, _ := payload.Get(key)
		if s, ok := value.(string); ok {
			value = strings.TrimSpace(s)
		}
		out.Set(key, value)
	}
	return out, nil
}

// CoerceScalars trims strings and types the ones that read as numbers or
// booleans. Blank strings become nil.
func CoerceScalars(payload domain.Payload) (domain.Payload, error) {
	out := domain.NewPayload(payload.Len())
	for _, key := range payload.Keys() {
		value, _ := payload.Get(key)
		if s, ok := value.(string); ok {
			value = coerceString(s)
		}
		out.Set(key, value)
	}
	return out, nil
}

func coerceString(raw string) any {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}
	switch strings.ToLower(value) {
	case "true", "yes":
		return true
	case "false", "no":
		return false
	}
	return domain.InferScalar(value)
}
