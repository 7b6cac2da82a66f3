package driver

import (
	"database/sql/driver"
	"errors"
	"io"
	"math"
	"strconv"

	"github.com/duckstax/otterbrix-go/bridge"
	"github.com/duckstax/otterbrix-go/engine"
)

// Rows reads projected columns from the documents of a cursor. Missing keys
// and nested values read as NULL.
type Rows struct {
	cur     *engine.Cursor
	columns []string
	keys    []string
}

var _ driver.Rows = (*Rows)(nil)

func newRows(cur *engine.Cursor, columns []string) *Rows {
	keys := make([]string, len(columns))
	for i, c := range columns {
		keys[i] = engine.Pointer(c)
	}
	return &Rows{cur: cur, columns: columns, keys: keys}
}

// Columns implements driver.Rows.
func (r *Rows) Columns() []string { return r.columns }

// Close releases the cursor.
func (r *Rows) Close() error { return r.cur.Close() }

// Next implements driver.Rows.
func (r *Rows) Next(dest []driver.Value) error {
	if !r.cur.HasNext() {
		return io.EOF
	}
	doc, err := r.cur.Next()
	if err != nil {
		return err
	}
	defer doc.Close()

	for i, key := range r.keys {
		v, kind, err := doc.Key(key).Inspect()
		switch {
		case errors.Is(err, engine.ErrNotFound):
			dest[i] = nil
			continue
		case err != nil:
			return err
		}
		dest[i] = driverValue(v, kind)
	}
	return nil
}

// driverValue converts an inspected value to a type database/sql accepts.
func driverValue(v any, kind bridge.Kind) driver.Value {
	switch kind {
	case bridge.KindUlong:
		u := v.(uint64)
		if u > math.MaxInt64 {
			return strconv.FormatUint(u, 10)
		}
		return int64(u)
	case bridge.KindArray, bridge.KindDict, bridge.KindNull:
		return nil
	}
	return v
}
