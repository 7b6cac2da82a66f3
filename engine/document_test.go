package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/duckstax/otterbrix-go/bridge"
	"github.com/duckstax/otterbrix-go/bridge/bridgetest"
)

func sampleDocument(t *testing.T) (*Engine, *Document) {
	t.Helper()
	e, fake := openFake(t)

	fake.Script("q", bridgetest.Result{Docs: []any{
		map[string]any{
			"_id":    "000000000000000000000001",
			"name":   "Name 1",
			"count":  int64(-3),
			"big":    uint64(1 << 63),
			"ratio":  0.5,
			"ok":     true,
			"none":   nil,
			"tags":   []any{"a", "b"},
			"nested": map[string]any{"x": int64(7), "a/b": "slash"},
		},
	}})

	cur, err := e.Execute(context.Background(), "q")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	t.Cleanup(func() { _ = cur.Close() })

	doc, err := cur.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	t.Cleanup(func() { _ = doc.Close() })
	return e, doc
}

func TestDocumentShape(t *testing.T) {
	_, doc := sampleDocument(t)

	if doc.ID() != "000000000000000000000001" {
		t.Errorf("Unexpected ID %q", doc.ID())
	}
	if !doc.IsValid() || !doc.IsDict() || doc.IsArray() {
		t.Error("Expected a valid dict document")
	}
	if doc.Count() != 9 {
		t.Errorf("Expected 9 fields, got %d", doc.Count())
	}
}

func TestValueGetters(t *testing.T) {
	_, doc := sampleDocument(t)

	if s, err := doc.Key("/name").String(); err != nil || s != "Name 1" {
		t.Errorf("String() = %q, %v", s, err)
	}
	if n, err := doc.Key("/count").Long(); err != nil || n != -3 {
		t.Errorf("Long() = %d, %v", n, err)
	}
	if u, err := doc.Key("/big").Ulong(); err != nil || u != 1<<63 {
		t.Errorf("Ulong() = %d, %v", u, err)
	}
	if f, err := doc.Key("/ratio").Double(); err != nil || f != 0.5 {
		t.Errorf("Double() = %v, %v", f, err)
	}
	if b, err := doc.Key("/ok").Bool(); err != nil || !b {
		t.Errorf("Bool() = %v, %v", b, err)
	}
	if n, err := doc.Key(Pointer("nested", "x")).Long(); err != nil || n != 7 {
		t.Errorf("nested Long() = %d, %v", n, err)
	}
	if s, err := doc.Key(Pointer("nested", "a/b")).String(); err != nil || s != "slash" {
		t.Errorf("escaped String() = %q, %v", s, err)
	}
}

func TestValueErrors(t *testing.T) {
	_, doc := sampleDocument(t)

	if _, err := doc.Key("/missing").String(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := doc.Key("/name").Long(); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Expected ErrTypeMismatch, got %v", err)
	}
	if _, err := doc.Key("/count").Ulong(); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Expected ErrTypeMismatch for long read as ulong, got %v", err)
	}
}

func TestValuePredicates(t *testing.T) {
	_, doc := sampleDocument(t)

	tests := []struct {
		key  string
		pred func(Value) bool
		want bool
	}{
		{"/name", Value.Exists, true},
		{"/missing", Value.Exists, false},
		{"/none", Value.IsNull, true},
		{"/ok", Value.IsBool, true},
		{"/big", Value.IsUlong, true},
		{"/count", Value.IsLong, true},
		{"/ratio", Value.IsDouble, true},
		{"/name", Value.IsString, true},
		{"/tags", Value.IsArray, true},
		{"/nested", Value.IsDict, true},
		{"/name", Value.IsDict, false},
	}

	for _, tt := range tests {
		if got := tt.pred(doc.Key(tt.key)); got != tt.want {
			t.Errorf("predicate on %s = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestNestedDocuments(t *testing.T) {
	e, doc := sampleDocument(t)

	tags, err := doc.Key("/tags").Array()
	if err != nil {
		t.Fatalf("Array failed: %v", err)
	}
	if !tags.IsArray() || tags.Count() != 2 {
		t.Errorf("Expected array of 2, got count %d", tags.Count())
	}
	if s, err := tags.Index(1).String(); err != nil || s != "b" {
		t.Errorf("Index(1) = %q, %v", s, err)
	}
	if _, err := tags.Index(5).String(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound out of range, got %v", err)
	}
	for _, i := range []int{-1, 1 << 32, 1<<32 + 1} {
		v := tags.Index(i)
		if v.Exists() {
			t.Errorf("Index(%d) exists", i)
		}
		if s, err := v.String(); !errors.Is(err, ErrNotFound) {
			t.Errorf("Index(%d) = %q, %v; want ErrNotFound", i, s, err)
		}
		if _, _, err := v.Inspect(); !errors.Is(err, ErrNotFound) {
			t.Errorf("Index(%d).Inspect: expected ErrNotFound, got %v", i, err)
		}
	}

	nested, err := doc.Key("/nested").Dict()
	if err != nil {
		t.Fatalf("Dict failed: %v", err)
	}
	if e.Stats().Documents != 3 {
		t.Errorf("Expected 3 open documents, got %d", e.Stats().Documents)
	}

	tags.Close()
	nested.Close()
	if e.Stats().Documents != 1 {
		t.Errorf("Expected 1 open document, got %d", e.Stats().Documents)
	}

	if _, err := doc.Key("/name").Array(); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("Expected ErrTypeMismatch, got %v", err)
	}
}

func TestInspect(t *testing.T) {
	_, doc := sampleDocument(t)

	type inspected struct {
		Value any
		Kind  bridge.Kind
	}

	got := map[string]inspected{}
	for _, key := range []string{"/name", "/count", "/big", "/ratio", "/ok", "/none", "/tags", "/nested"} {
		v, k, err := doc.Key(key).Inspect()
		if err != nil {
			t.Fatalf("Inspect(%s) failed: %v", key, err)
		}
		got[key] = inspected{v, k}
	}

	want := map[string]inspected{
		"/name":   {"Name 1", bridge.KindString},
		"/count":  {int64(-3), bridge.KindLong},
		"/big":    {uint64(1 << 63), bridge.KindUlong},
		"/ratio":  {0.5, bridge.KindDouble},
		"/ok":     {true, bridge.KindBool},
		"/none":   {nil, bridge.KindNull},
		"/tags":   {nil, bridge.KindArray},
		"/nested": {nil, bridge.KindDict},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Inspect mismatch (-want +got):\n%s", diff)
	}

	if _, err := doc.Key("/missing").Any(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDocumentClose(t *testing.T) {
	_, doc := sampleDocument(t)

	if err := doc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := doc.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
	if _, err := doc.Key("/name").String(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestPointer(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"a"}, "/a"},
		{[]string{"a", "b"}, "/a/b"},
		{[]string{"a/b"}, "/a~1b"},
		{[]string{"m~n"}, "/m~0n"},
		{[]string{""}, "/"},
	}

	for _, tt := range tests {
		if got := Pointer(tt.in...); got != tt.want {
			t.Errorf("Pointer(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
