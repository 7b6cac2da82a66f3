package arrow

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/go-cmp/cmp"

	"github.com/duckstax/otterbrix-go/bridge"
	"github.com/duckstax/otterbrix-go/bridge/bridgetest"
	"github.com/duckstax/otterbrix-go/engine"
)

func scriptedCursor(t *testing.T, docs ...any) *engine.Cursor {
	t.Helper()
	fake := bridgetest.New()
	e, err := engine.Open(context.Background(), bridge.ConfigAt(t.TempDir()), engine.WithNative(fake))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })

	fake.Script("q", bridgetest.Result{Docs: docs})
	cur, err := e.Execute(context.Background(), "q")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	t.Cleanup(func() { _ = cur.Close() })
	return cur
}

func TestCursorToRecord(t *testing.T) {
	cur := scriptedCursor(t,
		map[string]any{"name": "Name 1", "count": int64(1), "ratio": 0.5, "ok": true, "tags": []any{"a"}},
		map[string]any{"name": "Name 2", "count": int64(2)},
	)

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	c := NewConverterWithAllocator(mem)

	rec, err := c.CursorToRecord(cur, []string{"name", "count", "ratio", "ok", "tags"})
	if err != nil {
		t.Fatalf("CursorToRecord failed: %v", err)
	}

	if rec.NumRows() != 2 || rec.NumCols() != 5 {
		t.Fatalf("Expected 2x5 record, got %dx%d", rec.NumRows(), rec.NumCols())
	}

	got, err := RecordValues(rec)
	if err != nil {
		t.Fatalf("RecordValues failed: %v", err)
	}
	want := [][]any{
		{"Name 1", int64(1), 0.5, true, nil},
		{"Name 2", int64(2), nil, nil, nil},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Values mismatch (-want +got):\n%s", diff)
	}

	rec.Release()
	mem.AssertSize(t, 0)
}

func TestRowsToRecordCoercion(t *testing.T) {
	c := NewConverter()
	rows := []Row{
		{{Value: int64(5), Kind: bridge.KindLong}, {Value: 1.5, Kind: bridge.KindDouble}, {Value: "s", Kind: bridge.KindString}},
		{{Value: uint64(7), Kind: bridge.KindUlong}, {Value: int64(3), Kind: bridge.KindLong}, {Value: int64(9), Kind: bridge.KindLong}},
		{{Value: uint64(math.MaxUint64), Kind: bridge.KindUlong}, {Value: "x", Kind: bridge.KindString}, {Value: true, Kind: bridge.KindBool}},
	}

	rec, err := c.RowsToRecord([]string{"i", "f", "s"}, rows)
	if err != nil {
		t.Fatalf("RowsToRecord failed: %v", err)
	}
	defer rec.Release()

	got, err := RecordValues(rec)
	if err != nil {
		t.Fatalf("RecordValues failed: %v", err)
	}
	want := [][]any{
		{int64(5), 1.5, "s"},
		{int64(7), 3.0, "9"},
		{nil, nil, "true"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Values mismatch (-want +got):\n%s", diff)
	}
}

func TestRowsToRecordEmpty(t *testing.T) {
	c := NewConverter()
	rec, err := c.RowsToRecord([]string{"a", "b"}, nil)
	if err != nil {
		t.Fatalf("RowsToRecord failed: %v", err)
	}
	defer rec.Release()

	if rec.NumRows() != 0 || rec.NumCols() != 2 {
		t.Errorf("Expected 0x2 record, got %dx%d", rec.NumRows(), rec.NumCols())
	}
}

func TestRecordToJSON(t *testing.T) {
	c := NewConverter()
	rec, err := c.RowsToRecord([]string{"name", "n"}, []Row{
		{{Value: "a", Kind: bridge.KindString}, {Value: int64(1), Kind: bridge.KindLong}},
		{{Kind: bridge.KindNull}, {Value: int64(2), Kind: bridge.KindLong}},
	})
	if err != nil {
		t.Fatalf("RowsToRecord failed: %v", err)
	}
	defer rec.Release()

	data, err := RecordToJSON(rec)
	if err != nil {
		t.Fatalf("RecordToJSON failed: %v", err)
	}

	var got []map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid JSON %s: %v", data, err)
	}
	want := []map[string]any{
		{"name": "a", "n": 1.0},
		{"name": nil, "n": 2.0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("JSON mismatch (-want +got):\n%s", diff)
	}

	if data, _ := RecordToJSON(nil); string(data) != "[]" {
		t.Errorf("Expected [] for nil record, got %s", data)
	}
}

// FuzzRowsToRecord checks that arbitrary cell mixes never panic and keep
// the row count.
// Run with: go test -fuzz=FuzzRowsToRecord -fuzztime=30s ./arrow/
func FuzzRowsToRecord(f *testing.F) {
	f.Add(int64(1), uint64(2), 0.5, "s", true, uint8(0))
	f.Add(int64(-1), uint64(math.MaxUint64), math.Inf(1), "", false, uint8(3))

	c := NewConverter()

	f.Fuzz(func(t *testing.T, l int64, u uint64, d float64, s string, b bool, order uint8) {
		cells := []Cell{
			{Value: l, Kind: bridge.KindLong},
			{Value: u, Kind: bridge.KindUlong},
			{Value: d, Kind: bridge.KindDouble},
			{Value: s, Kind: bridge.KindString},
			{Value: b, Kind: bridge.KindBool},
			{Kind: bridge.KindNull},
		}
		// Rotate so every kind gets to decide the column type.
		rows := make([]Row, len(cells))
		for i := range cells {
			rows[i] = Row{cells[(i+int(order))%len(cells)]}
		}

		rec, err := c.RowsToRecord([]string{"v"}, rows)
		if err != nil {
			t.Fatalf("RowsToRecord failed: %v", err)
		}
		defer rec.Release()

		if rec.NumRows() != int64(len(rows)) {
			t.Errorf("Expected %d rows, got %d", len(rows), rec.NumRows())
		}
		if _, err := RecordValues(rec); err != nil {
			t.Errorf("RecordValues failed: %v", err)
		}
	})
}
