package engine

import (
	"fmt"

	"github.com/duckstax/otterbrix-go/bridge"
)

// Value addresses one element of a document. It does not hold native
// resources; every method queries the document it came from.
type Value struct {
	doc *Document
	sel bridge.Selector
}

func (v Value) is(kind bridge.Kind) bool {
	var ok bool
	_ = v.doc.do(func(n bridge.Native) error {
		ok = n.DocumentIs(v.doc.handle, kind, v.sel)
		return nil
	})
	return ok
}

func (v Value) Exists() bool   { return v.is(bridge.KindExist) }
func (v Value) IsNull() bool   { return v.is(bridge.KindNull) }
func (v Value) IsBool() bool   { return v.is(bridge.KindBool) }
func (v Value) IsUlong() bool  { return v.is(bridge.KindUlong) }
func (v Value) IsLong() bool   { return v.is(bridge.KindLong) }
func (v Value) IsDouble() bool { return v.is(bridge.KindDouble) }
func (v Value) IsString() bool { return v.is(bridge.KindString) }
func (v Value) IsArray() bool  { return v.is(bridge.KindArray) }
func (v Value) IsDict() bool   { return v.is(bridge.KindDict) }

// check verifies that the value exists and has the given kind. Runs on the
// executor thread.
func (v Value) check(n bridge.Native, kind bridge.Kind) error {
	if !n.DocumentIs(v.doc.handle, bridge.KindExist, v.sel) {
		return fmt.Errorf("%w: %s", ErrNotFound, v.sel)
	}
	if !n.DocumentIs(v.doc.handle, kind, v.sel) {
		return fmt.Errorf("%w: %s is not %s", ErrTypeMismatch, v.sel, kind)
	}
	return nil
}

func get[T any](v Value, kind bridge.Kind, read func(n bridge.Native, h bridge.Handle, sel bridge.Selector) T) (T, error) {
	var out T
	err := v.doc.do(func(n bridge.Native) error {
		if err := v.check(n, kind); err != nil {
			return err
		}
		out = read(n, v.doc.handle, v.sel)
		return nil
	})
	return out, err
}

func (v Value) Bool() (bool, error) {
	return get(v, bridge.KindBool, bridge.Native.DocumentBool)
}

func (v Value) Ulong() (uint64, error) {
	return get(v, bridge.KindUlong, bridge.Native.DocumentUlong)
}

func (v Value) Long() (int64, error) {
	return get(v, bridge.KindLong, bridge.Native.DocumentLong)
}

func (v Value) Double() (float64, error) {
	return get(v, bridge.KindDouble, bridge.Native.DocumentDouble)
}

func (v Value) String() (string, error) {
	return get(v, bridge.KindString, bridge.Native.DocumentString)
}

// nested returns a tracked sub-document.
func (v Value) nested(kind bridge.Kind, read func(n bridge.Native, h bridge.Handle, sel bridge.Selector) bridge.Handle) (*Document, error) {
	e := v.doc.eng
	h, err := get(v, kind, func(n bridge.Native, h bridge.Handle, sel bridge.Selector) bridge.Handle {
		sub := read(n, h, sel)
		if sub != 0 {
			e.track(e.documents, sub)
		}
		return sub
	})
	if err != nil {
		return nil, err
	}
	if h == 0 {
		return nil, ErrNoDocument
	}
	return newDocument(e, h), nil
}

// Array returns the array at this position as a document that must be closed.
func (v Value) Array() (*Document, error) {
	return v.nested(bridge.KindArray, bridge.Native.DocumentArray)
}

// Dict returns the dict at this position as a document that must be closed.
func (v Value) Dict() (*Document, error) {
	return v.nested(bridge.KindDict, bridge.Native.DocumentDict)
}

// scalarOrder lists scalar kinds in the order Inspect tries them. Long comes
// before ulong so that small non-negative integers read as int64.
var scalarOrder = [...]bridge.Kind{
	bridge.KindBool,
	bridge.KindLong,
	bridge.KindUlong,
	bridge.KindDouble,
	bridge.KindString,
}

// Inspect determines the value's kind and reads it in one executor call.
// Arrays and dicts are reported with a nil value; use Array or Dict to read
// them.
func (v Value) Inspect() (any, bridge.Kind, error) {
	var (
		out  any
		kind bridge.Kind
	)
	err := v.doc.do(func(n bridge.Native) error {
		h, sel := v.doc.handle, v.sel
		if !n.DocumentIs(h, bridge.KindExist, sel) {
			return fmt.Errorf("%w: %s", ErrNotFound, sel)
		}
		if n.DocumentIs(h, bridge.KindNull, sel) {
			kind = bridge.KindNull
			return nil
		}
		for _, k := range scalarOrder {
			if !n.DocumentIs(h, k, sel) {
				continue
			}
			kind = k
			switch k {
			case bridge.KindBool:
				out = n.DocumentBool(h, sel)
			case bridge.KindLong:
				out = n.DocumentLong(h, sel)
			case bridge.KindUlong:
				out = n.DocumentUlong(h, sel)
			case bridge.KindDouble:
				out = n.DocumentDouble(h, sel)
			case bridge.KindString:
				out = n.DocumentString(h, sel)
			}
			return nil
		}
		switch {
		case n.DocumentIs(h, bridge.KindArray, sel):
			kind = bridge.KindArray
		case n.DocumentIs(h, bridge.KindDict, sel):
			kind = bridge.KindDict
		default:
			return fmt.Errorf("%w: %s has no known type", ErrTypeMismatch, sel)
		}
		return nil
	})
	if err != nil {
		return nil, kind, err
	}
	return out, kind, nil
}

// Any returns the scalar value as bool, int64, uint64, float64, string or
// nil. Nested values are returned as nil.
func (v Value) Any() (any, error) {
	out, _, err := v.Inspect()
	return out, err
}
