package engine

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"

	"github.com/duckstax/otterbrix-go/bridge"
)

// Cursor is the result of a statement. Iteration starts before the first
// document: HasNext reports whether Next has another document to return.
type Cursor struct {
	eng     *Engine
	handle  bridge.Handle
	cleanup runtime.Cleanup
	closed  atomic.Bool
}

func newCursor(e *Engine, h bridge.Handle) *Cursor {
	c := &Cursor{eng: e, handle: h}
	c.cleanup = runtime.AddCleanup(c, func(h bridge.Handle) {
		e.leak("cursor", e.cursors, h)
	}, h)
	return c
}

func (c *Cursor) do(fn func(n bridge.Native) error) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.eng.do(context.Background(), func() error {
		return fn(c.eng.native)
	}, nil)
}

// document wraps a document handle returned by fn.
func (c *Cursor) document(fn func(n bridge.Native) bridge.Handle) (*Document, error) {
	var h bridge.Handle
	err := c.do(func(n bridge.Native) error {
		if h = fn(n); h == 0 {
			return ErrNoDocument
		}
		c.eng.track(c.eng.documents, h)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newDocument(c.eng, h), nil
}

// Size returns the number of documents in the cursor.
func (c *Cursor) Size() int {
	var size int
	_ = c.do(func(n bridge.Native) error {
		size = n.CursorSize(c.handle)
		return nil
	})
	return size
}

// HasNext reports whether Next will return a document.
func (c *Cursor) HasNext() bool {
	var ok bool
	_ = c.do(func(n bridge.Native) error {
		ok = n.CursorHasNext(c.handle)
		return nil
	})
	return ok
}

// Next advances the cursor and returns the document at the new position.
func (c *Cursor) Next() (*Document, error) {
	return c.document(func(n bridge.Native) bridge.Handle {
		return n.CursorNext(c.handle)
	})
}

// Get returns the document at the current position, or the first one if
// iteration has not started.
func (c *Cursor) Get() (*Document, error) {
	return c.document(func(n bridge.Native) bridge.Handle {
		return n.CursorGet(c.handle)
	})
}

// GetByIndex returns the document at index i. It returns ErrNoDocument when
// i is out of range.
func (c *Cursor) GetByIndex(i int) (*Document, error) {
	if !bridge.ValidIndex(i) {
		return nil, ErrNoDocument
	}
	return c.document(func(n bridge.Native) bridge.Handle {
		return n.CursorGetByIndex(c.handle, i)
	})
}

// IsSuccess reports whether the statement succeeded.
func (c *Cursor) IsSuccess() bool {
	var ok bool
	_ = c.do(func(n bridge.Native) error {
		ok = n.CursorIsSuccess(c.handle)
		return nil
	})
	return ok
}

// IsError reports whether the statement failed.
func (c *Cursor) IsError() bool {
	var ok bool
	_ = c.do(func(n bridge.Native) error {
		ok = n.CursorIsError(c.handle)
		return nil
	})
	return ok
}

// Err returns the cursor's error as a *bridge.Error, or nil on success.
func (c *Cursor) Err() error {
	var result error
	err := c.do(func(n bridge.Native) error {
		code, msg := n.CursorError(c.handle)
		result = bridge.NewError(code, msg)
		return nil
	})
	if err != nil {
		return err
	}
	return result
}

// Each calls fn for every remaining document and closes it afterwards.
// Iteration stops at the first error.
func (c *Cursor) Each(fn func(*Document) error) error {
	for c.HasNext() {
		doc, err := c.Next()
		if err != nil {
			return err
		}
		err = fn(doc)
		if cerr := doc.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Close releases the native cursor. Documents obtained from it stay valid
// until they are closed. Close is idempotent.
func (c *Cursor) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cleanup.Stop()

	err := c.eng.do(context.Background(), func() error {
		c.eng.releaseCursor(c.handle)
		return nil
	}, nil)
	if errors.Is(err, ErrClosed) || errors.Is(err, ErrExecutorClosed) {
		// The engine already released it.
		return nil
	}
	return err
}
