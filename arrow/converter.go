package arrow

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/duckstax/otterbrix-go/bridge"
	"github.com/duckstax/otterbrix-go/engine"
)

// Converter turns cursor documents into Arrow records.
type Converter struct {
	allocator memory.Allocator
}

// NewConverter creates a new Converter with the default memory allocator.
func NewConverter() *Converter {
	return &Converter{allocator: memory.DefaultAllocator}
}

// NewConverterWithAllocator creates a Converter with a custom allocator.
func NewConverterWithAllocator(alloc memory.Allocator) *Converter {
	return &Converter{allocator: alloc}
}

// ReadRows reads the remaining documents of cur, projecting each onto
// columns. Every document is closed after it is read.
func ReadRows(cur *engine.Cursor, columns []string) ([]Row, error) {
	keys := make([]string, len(columns))
	for i, c := range columns {
		keys[i] = engine.Pointer(c)
	}

	var rows []Row
	err := cur.Each(func(doc *engine.Document) error {
		row := make(Row, len(keys))
		for i, key := range keys {
			v, kind, err := doc.Key(key).Inspect()
			switch {
			case errors.Is(err, engine.ErrNotFound):
				row[i] = Cell{Kind: bridge.KindNull}
				continue
			case err != nil:
				return fmt.Errorf("read %s: %w", columns[i], err)
			}
			row[i] = Cell{Value: v, Kind: kind}
		}
		rows = append(rows, row)
		return nil
	})
	return rows, err
}

// CursorToRecord reads the remaining documents of cur into a record with one
// column per name in columns.
func (c *Converter) CursorToRecord(cur *engine.Cursor, columns []string) (arrow.Record, error) {
	rows, err := ReadRows(cur, columns)
	if err != nil {
		return nil, err
	}
	return c.RowsToRecord(columns, rows)
}

// RowsToRecord builds a record from rows using an inferred schema. Values
// that do not fit their column's type are null.
func (c *Converter) RowsToRecord(columns []string, rows []Row) (arrow.Record, error) {
	schema := InferSchema(columns, rows)

	builder := array.NewRecordBuilder(c.allocator, schema)
	defer builder.Release()

	for i := range columns {
		fb := builder.Field(i)
		for _, row := range rows {
			if i >= len(row) {
				fb.AppendNull()
				continue
			}
			appendCell(fb, row[i])
		}
	}

	return builder.NewRecord(), nil
}

func appendCell(b array.Builder, cell Cell) {
	switch fb := b.(type) {
	case *array.BooleanBuilder:
		if v, ok := cell.Value.(bool); ok {
			fb.Append(v)
			return
		}
	case *array.Int64Builder:
		if v, ok := asInt64(cell.Value); ok {
			fb.Append(v)
			return
		}
	case *array.Uint64Builder:
		if v, ok := asUint64(cell.Value); ok {
			fb.Append(v)
			return
		}
	case *array.Float64Builder:
		if v, ok := asFloat64(cell.Value); ok {
			fb.Append(v)
			return
		}
	case *array.StringBuilder:
		if v, ok := asString(cell.Value); ok {
			fb.Append(v)
			return
		}
	}
	b.AppendNull()
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x), true
		}
	}
	return 0, false
}

func asUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case int64:
		if x >= 0 {
			return uint64(x), true
		}
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}

func asString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	}
	return "", false
}

// RecordValues returns the record's values row by row. Nulls are nil.
func RecordValues(record arrow.Record) ([][]any, error) {
	if record == nil {
		return nil, errors.New("record is nil")
	}

	rows := make([][]any, record.NumRows())
	for i := range rows {
		rows[i] = make([]any, record.NumCols())
	}

	for j, col := range record.Columns() {
		for i := 0; i < col.Len() && i < len(rows); i++ {
			if col.IsNull(i) {
				continue
			}
			switch a := col.(type) {
			case *array.Boolean:
				rows[i][j] = a.Value(i)
			case *array.Int64:
				rows[i][j] = a.Value(i)
			case *array.Uint64:
				rows[i][j] = a.Value(i)
			case *array.Float64:
				rows[i][j] = a.Value(i)
			case *array.String:
				rows[i][j] = a.Value(i)
			default:
				return nil, fmt.Errorf("column %d has unsupported type %s", j, col.DataType())
			}
		}
	}
	return rows, nil
}

// RecordToJSON converts a record to a JSON array of objects keyed by
// column name.
func RecordToJSON(record arrow.Record) ([]byte, error) {
	if record == nil || record.NumRows() == 0 {
		return []byte("[]"), nil
	}

	values, err := RecordValues(record)
	if err != nil {
		return nil, err
	}

	fields := record.Schema().Fields()
	objects := make([]map[string]any, len(values))
	for i, row := range values {
		obj := make(map[string]any, len(fields))
		for j, f := range fields {
			obj[f.Name] = row[j]
		}
		objects[i] = obj
	}
	return json.Marshal(objects)
}
