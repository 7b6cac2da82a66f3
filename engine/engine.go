// Package engine wraps the native otterbrix engine, its cursors and its
// documents in Go objects with deterministic release.
//
// An Engine owns one native instance and one Executor. Every native call
// made through the Engine, its Cursors or its Documents runs on the
// executor thread. Cursors and Documents must be closed; whatever is still
// open when the Engine is closed is released then.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/duckstax/otterbrix-go/bridge"
)

var (
	// ErrClosed is returned by calls on a closed engine, cursor or document.
	ErrClosed = errors.New("engine: closed")
	// ErrNoDocument is returned when the native side has no document to hand out.
	ErrNoDocument = errors.New("engine: no document")
	// ErrNotFound is returned by typed getters when the key does not exist.
	ErrNotFound = errors.New("engine: key not found")
	// ErrTypeMismatch is returned by typed getters when the value has another type.
	ErrTypeMismatch = errors.New("engine: type mismatch")
)

// closeTimeout bounds how long Close waits for the executor to stop.
const closeTimeout = 10 * time.Second

// Stats is a snapshot of an engine's open handles.
type Stats struct {
	Cursors   int           `json:"cursors"`
	Documents int           `json:"documents"`
	Leaked    int64         `json:"leaked"`
	Executor  ExecutorStats `json:"executor"`
}

// Engine is an open native engine instance.
type Engine struct {
	native bridge.Native
	handle bridge.Handle
	exec   *Executor
	logger *zap.Logger
	obs    Observer

	mu        sync.Mutex
	cursors   map[bridge.Handle]struct{}
	documents map[bridge.Handle]struct{}

	closed atomic.Bool
	leaked atomic.Int64

	// destroyed is only touched on the executor thread.
	destroyed bool
}

// Open creates a native engine instance for cfg.
func Open(ctx context.Context, cfg bridge.Config, opts ...Option) (*Engine, error) {
	o := options{
		logger:    zap.NewNop(),
		observer:  nopObserver{},
		queueSize: defaultQueueSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if o.native == nil {
		n, err := bridge.Load()
		if err != nil {
			return nil, fmt.Errorf("load native library: %w", err)
		}
		o.native = n
	}

	e := &Engine{
		native:    o.native,
		exec:      NewExecutor("otterbrix", o.queueSize),
		logger:    o.logger,
		obs:       o.observer,
		cursors:   make(map[bridge.Handle]struct{}),
		documents: make(map[bridge.Handle]struct{}),
	}

	start := time.Now()
	var h bridge.Handle
	err := e.exec.Submit(ctx, func() error {
		var err error
		h, err = e.native.Create(cfg, o.database, o.collection)
		if err != nil {
			return err
		}
		if h == 0 {
			return bridge.ErrNullHandle
		}
		return nil
	}, func() {
		_ = e.native.Destroy(h)
	})
	e.obs.ObserveCall("open", err, time.Since(start))
	if err != nil {
		e.exec.Shutdown()
		return nil, fmt.Errorf("create engine: %w", err)
	}
	e.handle = h

	e.logger.Info("Engine opened",
		zap.String("level", cfg.Level.String()),
		zap.String("disk_path", cfg.DiskPath),
		zap.Bool("wal", cfg.WALOn),
		zap.Bool("disk", cfg.DiskOn),
	)
	return e, nil
}

// do runs fn on the executor thread unless the engine is gone.
func (e *Engine) do(ctx context.Context, fn func() error, release func()) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.exec.Submit(ctx, func() error {
		if e.destroyed {
			return ErrClosed
		}
		return fn()
	}, release)
}

// cursorResult turns a freshly returned cursor into a tracked handle or an
// error. Runs on the executor thread.
func (e *Engine) cursorResult(cur bridge.Handle, err error) (bridge.Handle, error) {
	if err != nil {
		return 0, err
	}
	if cur == 0 {
		return 0, bridge.ErrNullHandle
	}
	if e.native.CursorIsError(cur) {
		code, msg := e.native.CursorError(cur)
		e.native.ReleaseCursor(cur)
		if code == bridge.CodeNone {
			code = bridge.CodeOther
		}
		return 0, bridge.NewError(code, msg)
	}
	e.track(e.cursors, cur)
	return cur, nil
}

// cursorCall runs a native call returning a cursor and wraps the result.
func (e *Engine) cursorCall(ctx context.Context, op string, call func() (bridge.Handle, error)) (*Cursor, error) {
	start := time.Now()
	var h bridge.Handle
	err := e.do(ctx, func() error {
		var err error
		h, err = e.cursorResult(call())
		return err
	}, func() {
		e.releaseCursor(h)
	})
	e.obs.ObserveCall(op, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return newCursor(e, h), nil
}

// Execute runs a SQL statement. The returned cursor must be closed.
func (e *Engine) Execute(ctx context.Context, sql string) (*Cursor, error) {
	c, err := e.cursorCall(ctx, "execute", func() (bridge.Handle, error) {
		return e.native.ExecuteSQL(e.handle, sql)
	})
	if err != nil {
		e.logger.Debug("Query failed", zap.String("sql", sql), zap.Error(err))
	}
	return c, err
}

// CreateDatabase creates a database. The returned cursor must be closed.
func (e *Engine) CreateDatabase(ctx context.Context, database string) (*Cursor, error) {
	return e.cursorCall(ctx, "create_database", func() (bridge.Handle, error) {
		return e.native.CreateDatabase(e.handle, database)
	})
}

// CreateCollection creates a collection. The returned cursor must be closed.
func (e *Engine) CreateCollection(ctx context.Context, database, collection string) (*Cursor, error) {
	return e.cursorCall(ctx, "create_collection", func() (bridge.Handle, error) {
		return e.native.CreateCollection(e.handle, database, collection)
	})
}

func (e *Engine) track(set map[bridge.Handle]struct{}, h bridge.Handle) {
	e.mu.Lock()
	set[h] = struct{}{}
	cursors, documents := len(e.cursors), len(e.documents)
	e.mu.Unlock()
	e.obs.ObserveHandles(cursors, documents)
}

// untrack reports whether h was still tracked.
func (e *Engine) untrack(set map[bridge.Handle]struct{}, h bridge.Handle) bool {
	e.mu.Lock()
	_, ok := set[h]
	delete(set, h)
	cursors, documents := len(e.cursors), len(e.documents)
	e.mu.Unlock()
	if ok {
		e.obs.ObserveHandles(cursors, documents)
	}
	return ok
}

func (e *Engine) tracked(set map[bridge.Handle]struct{}, h bridge.Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := set[h]
	return ok
}

// releaseCursor and releaseDocument run on the executor thread.
func (e *Engine) releaseCursor(h bridge.Handle) {
	if h != 0 && e.untrack(e.cursors, h) {
		e.native.ReleaseCursor(h)
	}
}

func (e *Engine) releaseDocument(h bridge.Handle) {
	if h != 0 && e.untrack(e.documents, h) {
		e.native.ReleaseDocument(h)
	}
}

// leak is called by the runtime for wrappers dropped without Close. The
// handle stays tracked and is released when the engine closes.
func (e *Engine) leak(kind string, set map[bridge.Handle]struct{}, h bridge.Handle) {
	if !e.tracked(set, h) {
		return
	}
	e.leaked.Add(1)
	e.obs.ObserveLeak(kind)
	e.logger.Warn("Handle garbage collected without Close",
		zap.String("kind", kind),
		zap.Uint64("handle", uint64(h)),
	)
}

// Alive reports whether the engine is open and its executor still accepts
// calls.
func (e *Engine) Alive() bool { return !e.closed.Load() && e.exec.IsRunning() }

// Stats returns the number of open handles and executor statistics.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	cursors, documents := len(e.cursors), len(e.documents)
	e.mu.Unlock()

	return Stats{
		Cursors:   cursors,
		Documents: documents,
		Leaked:    e.leaked.Load(),
		Executor:  e.exec.GetStats(),
	}
}

// Close releases every open document and cursor, destroys the native
// instance and stops the executor. Close is idempotent.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	start := time.Now()
	err := e.exec.Do(func() error {
		if e.destroyed {
			return nil
		}

		e.mu.Lock()
		docs := handles(e.documents)
		cursors := handles(e.cursors)
		clear(e.documents)
		clear(e.cursors)
		e.mu.Unlock()

		for _, h := range docs {
			e.logger.Warn("Releasing open document on close", zap.Uint64("handle", uint64(h)))
			e.native.ReleaseDocument(h)
		}
		for _, h := range cursors {
			e.logger.Warn("Releasing open cursor on close", zap.Uint64("handle", uint64(h)))
			e.native.ReleaseCursor(h)
		}

		e.destroyed = true
		return e.native.Destroy(e.handle)
	})
	if serr := e.exec.ShutdownWithTimeout(closeTimeout); serr != nil {
		e.logger.Warn("Executor did not stop in time", zap.Duration("timeout", closeTimeout), zap.Error(serr))
	}

	e.obs.ObserveHandles(0, 0)
	e.obs.ObserveCall("close", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("destroy engine: %w", err)
	}

	e.logger.Info("Engine closed")
	return nil
}

func handles(set map[bridge.Handle]struct{}) []bridge.Handle {
	out := make([]bridge.Handle, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}
