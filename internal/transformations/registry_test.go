package transformations

import (
	"errors"
	"testing"

	"github.com/rpattn/sheetpipe/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloadOf(pairs ...any) domain.Payload {
	payload := domain.NewPayload(len(pairs) / 2)
	for i := 0; i+1 < len(pairs); i += 2 {
		payload.Set(pairs[i].(string), pairs[i+1])
	}
	return payload
}

func TestResolveFallsBackToDefault(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Type1, TransformFunc(TrimStrings)))
	require.NoError(t, registry.Register(DefaultType, TransformFunc(Passthrough)))

	_, resolved, err := registry.Resolve(Type2)
	require.NoError(t, err)
	assert.Equal(t, DefaultType, resolved)

	_, resolved, err = registry.Resolve(Type1)
	require.NoError(t, err)
	assert.Equal(t, Type1, resolved)
}

func TestResolveWithoutDefaultFails(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Type1, TransformFunc(TrimStrings)))

	_, _, err := registry.Resolve("unknown")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoTransform))
}

func TestRegisterRejectsInvalidEntries(t *testing.T) {
	registry := NewRegistry()
	assert.Error(t, registry.Register("", TransformFunc(Passthrough)))
	assert.Error(t, registry.Register("x", nil))
	require.NoError(t, registry.Register("x", TransformFunc(Passthrough)))
	assert.Error(t, registry.Register("x", TransformFunc(Passthrough)))
}

func TestBuiltinTypes(t *testing.T) {
	assert.Equal(t, []string{"default", "type1", "type2"}, Builtin().Types())
}

func TestMustRegisterPanicsOnDuplicateTag(t *testing.T) {
	r := Builtin()
	assert.PanicsWithValue(t,
		`register built-in transform "type1": `+mustErr(t, r.Register(Type1, TransformFunc(Passthrough))),
		func() { mustRegister(r, Type1, TransformFunc(Passthrough)) },
	)
	assert.NotPanics(t, func() { mustRegister(r, "type3", TransformFunc(Passthrough)) })
}

func mustErr(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	return err.Error()
}

func TestTrimStringsKeepsOrderAndNonStrings(t *testing.T) {
	out, err := TrimStrings(payloadOf("name", "  Ada ", "age", int64(36), "note", nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "age", "note"}, out.Keys())
	assert.True(t, out.Equal(payloadOf("name", "Ada", "age", int64(36), "note", nil)))
}

func TestCoerceScalars(t *testing.T) {
	in := payloadOf(
		"qty", " 12 ",
		"price", "3.50",
		"active", "Yes",
		"closed", "FALSE",
		"zip", "02139",
		"blank", "   ",
		"label", " hello ",
		"already", int64(5),
	)

	out, err := CoerceScalars(in)
	require.NoError(t, err)

	expected := payloadOf(
		"qty", int64(12),
		"price", 3.5,
		"active", true,
		"closed", false,
		"zip", "02139",
		"blank", nil,
		"label", "hello",
		"already", int64(5),
	)
	assert.True(t, expected.Equal(out), "got %v", out.Map())
	assert.Equal(t, in.Keys(), out.Keys())

	original, _ := in.Get("qty")
	assert.Equal(t, " 12 ", original)
}

func TestPassthroughReturnsSamePayload(t *testing.T) {
	in := payloadOf("a", "b")
	out, err := Passthrough(in)
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
}
