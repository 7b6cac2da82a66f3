package arrow

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/duckstax/otterbrix-go/bridge"
)

// Cell is one projected value of a document. Missing keys are KindNull.
type Cell struct {
	Value any
	Kind  bridge.Kind
}

// Row holds a document's cells in column order.
type Row []Cell

// fieldType maps a document value kind to its Arrow type. Nested values
// have no Arrow counterpart here and fall back to String.
func fieldType(k bridge.Kind) arrow.DataType {
	switch k {
	case bridge.KindBool:
		return arrow.FixedWidthTypes.Boolean
	case bridge.KindUlong:
		return arrow.PrimitiveTypes.Uint64
	case bridge.KindLong:
		return arrow.PrimitiveTypes.Int64
	case bridge.KindDouble:
		return arrow.PrimitiveTypes.Float64
	default:
		return arrow.BinaryTypes.String
	}
}

// InferSchema builds a schema with one nullable field per column. A field
// takes the type of the first non-null value in its column; a column with
// no such value is String.
func InferSchema(columns []string, rows []Row) *arrow.Schema {
	fields := make([]arrow.Field, len(columns))
	for i, name := range columns {
		kind := bridge.KindNull
		for _, row := range rows {
			if i < len(row) && row[i].Kind != bridge.KindNull {
				kind = row[i].Kind
				break
			}
		}
		fields[i] = arrow.Field{Name: name, Type: fieldType(kind), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}
