package engine

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/duckstax/otterbrix-go/bridge"
)

// Document is a document owned by the native engine. Dicts are addressed by
// JSON pointer with Key, arrays by position with Index.
type Document struct {
	eng     *Engine
	handle  bridge.Handle
	cleanup runtime.Cleanup
	closed  atomic.Bool
}

func newDocument(e *Engine, h bridge.Handle) *Document {
	d := &Document{eng: e, handle: h}
	d.cleanup = runtime.AddCleanup(d, func(h bridge.Handle) {
		e.leak("document", e.documents, h)
	}, h)
	return d
}

func (d *Document) do(fn func(n bridge.Native) error) error {
	if d.closed.Load() {
		return ErrClosed
	}
	return d.eng.do(context.Background(), func() error {
		return fn(d.eng.native)
	}, nil)
}

// ID returns the document's _id, or "" when it has none.
func (d *Document) ID() string {
	var id string
	_ = d.do(func(n bridge.Native) error {
		id = n.DocumentID(d.handle)
		return nil
	})
	return id
}

// IsValid reports whether the native document is valid.
func (d *Document) IsValid() bool {
	var ok bool
	_ = d.do(func(n bridge.Native) error {
		ok = n.DocumentIsValid(d.handle)
		return nil
	})
	return ok
}

// IsArray reports whether the document is an array.
func (d *Document) IsArray() bool {
	var ok bool
	_ = d.do(func(n bridge.Native) error {
		ok = n.DocumentIsArray(d.handle)
		return nil
	})
	return ok
}

// IsDict reports whether the document is a dict.
func (d *Document) IsDict() bool {
	var ok bool
	_ = d.do(func(n bridge.Native) error {
		ok = n.DocumentIsDict(d.handle)
		return nil
	})
	return ok
}

// Count returns the number of elements at the top level.
func (d *Document) Count() int {
	var count int
	_ = d.do(func(n bridge.Native) error {
		count = n.DocumentCount(d.handle)
		return nil
	})
	return count
}

// Key returns the value at JSON pointer ptr, such as "/name" or "/a/b".
func (d *Document) Key(ptr string) Value {
	return Value{doc: d, sel: bridge.ByKey(ptr)}
}

// Index returns the value at position i. A position the native side cannot
// address yields a value that does not exist.
func (d *Document) Index(i int) Value {
	return Value{doc: d, sel: bridge.ByIndex(i)}
}

// Close releases the native document. Close is idempotent.
func (d *Document) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.cleanup.Stop()

	err := d.eng.do(context.Background(), func() error {
		d.eng.releaseDocument(d.handle)
		return nil
	}, nil)
	if errors.Is(err, ErrClosed) || errors.Is(err, ErrExecutorClosed) {
		return nil
	}
	return err
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// Pointer builds a JSON pointer from unescaped path segments.
//
//	Pointer("a", "b/c") == "/a/b~1c"
func Pointer(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(pointerEscaper.Replace(s))
	}
	return b.String()
}
