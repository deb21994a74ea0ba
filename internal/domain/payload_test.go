package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestPayloadMarshalPreservesOrder(t *testing.T) {
	p := NewPayload(3)
	p.Set("zeta", "last")
	p.Set("alpha", int64(1))
	p.Set("mid", nil)

	encoded, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	want := `{"zeta":"last","alpha":1,"mid":null}`
	if string(encoded) != want {
		t.Fatalf("expected %s, got %s", want, encoded)
	}

	var decoded Payload
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if strings.Join(decoded.Keys(), ",") != "zeta,alpha,mid" {
		t.Fatalf("unexpected key order: %v", decoded.Keys())
	}
	if !decoded.Equal(p) {
		t.Fatalf("decoded payload differs: %s", encoded)
	}
}

func TestPayloadCanonicalIgnoresInsertionOrder(t *testing.T) {
	first := NewPayload(2)
	first.Set("name", "Alice")
	first.Set("age", int64(30))

	second := NewPayload(2)
	second.Set("age", int64(30))
	second.Set("name", "Alice")

	a, err := first.Canonical()
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	b, err := second.Canonical()
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("canonical forms differ: %s vs %s", a, b)
	}
}

func TestPayloadNormalizesNumbers(t *testing.T) {
	p := NewPayload(3)
	p.Set("whole", 3.0)
	p.Set("fraction", 2.5)
	p.Set("small", 7)

	if v, _ := p.Get("whole"); v != int64(3) {
		t.Fatalf("expected whole float to fold to int64, got %T %v", v, v)
	}
	if v, _ := p.Get("fraction"); v != 2.5 {
		t.Fatalf("expected 2.5, got %v", v)
	}
	if v, _ := p.Get("small"); v != int64(7) {
		t.Fatalf("expected int64 7, got %T", v)
	}
}

func TestParsePayloadRejectsNonObject(t *testing.T) {
	if _, err := ParsePayload([]byte(`[1,2]`)); err == nil {
		t.Fatalf("expected error for array payload")
	}
	if _, err := ParsePayload([]byte(`{"a":`)); err == nil {
		t.Fatalf("expected error for truncated payload")
	}
}

func TestInferScalar(t *testing.T) {
	cases := []struct {
		raw  string
		want any
	}{
		{"", nil},
		{"42", int64(42)},
		{"-7", int64(-7)},
		{"3.25", 3.25},
		{"1e3", 1000.0},
		{"007", "007"},
		{"0.5", 0.5},
		{"TRUE", true},
		{"FALSE", false},
		{"true", "true"},
		{"12,5", "12,5"},
		{"NaN", "NaN"},
		{"0x1p-2", "0x1p-2"},
		{"123456789012345678901234", "123456789012345678901234"},
	}
	for _, tc := range cases {
		if got := InferScalar(tc.raw); got != tc.want {
			t.Errorf("InferScalar(%q) = %#v, want %#v", tc.raw, got, tc.want)
		}
	}
}

func TestTruncateMessageKeepsRunes(t *testing.T) {
	msg := strings.Repeat("é", 400)
	got := TruncateMessage(msg)
	if len(got) > maxErrorMessageLen {
		t.Fatalf("message not truncated: %d bytes", len(got))
	}
	if !strings.HasPrefix(msg, got) || len(got)%2 != 0 {
		t.Fatalf("truncation split a rune: %d bytes", len(got))
	}
}
