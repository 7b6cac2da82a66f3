package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	oarrow "github.com/duckstax/otterbrix-go/arrow"
	"github.com/duckstax/otterbrix-go/driver"
	"github.com/duckstax/otterbrix-go/engine"
)

// ErrEmptyQuery is returned for requests without SQL.
var ErrEmptyQuery = errors.New("empty query")

// QueryHandler runs requests against an engine and encodes results as
// Arrow IPC.
type QueryHandler struct {
	eng     *engine.Engine
	conv    *oarrow.Converter
	ipc     *oarrow.IPCWriter
	metrics *Metrics
	timeout time.Duration
}

// NewQueryHandler creates a handler. metrics may be nil; a zero timeout
// means queries run until the caller's context ends.
func NewQueryHandler(eng *engine.Engine, metrics *Metrics, timeout time.Duration) *QueryHandler {
	return &QueryHandler{
		eng:     eng,
		conv:    oarrow.NewConverter(),
		ipc:     oarrow.NewIPCWriter(),
		metrics: metrics,
		timeout: timeout,
	}
}

// Columns resolves the columns a request returns.
func Columns(req Request) ([]string, error) {
	if len(req.Columns) > 0 {
		return req.Columns, nil
	}
	return driver.Columns(req.SQL)
}

// Handle runs req. Statements with columns return an Arrow IPC payload
// holding the result; other statements return only the row count.
func (h *QueryHandler) Handle(ctx context.Context, req Request) (Response, []byte) {
	if req.SQL == "" {
		return errorResponse(req.ID, ErrEmptyQuery), nil
	}
	cols, err := Columns(req)
	if err != nil {
		return errorResponse(req.ID, err), nil
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	cur, err := h.eng.Execute(ctx, req.SQL)
	if err != nil {
		return errorResponse(req.ID, err), nil
	}
	defer cur.Close()

	if h.metrics != nil {
		h.metrics.UpdateExecutor(h.eng.Stats().Executor)
	}

	if len(cols) == 0 {
		return Response{ID: req.ID, OK: true, Rows: int64(cur.Size())}, nil
	}

	rec, err := h.conv.CursorToRecord(cur, cols)
	if err != nil {
		return errorResponse(req.ID, err), nil
	}
	defer rec.Release()

	payload, err := h.ipc.SerializeToIPC(rec)
	if err != nil {
		return errorResponse(req.ID, err), nil
	}
	if len(payload) > MaxMessageSize {
		return errorResponse(req.ID, fmt.Errorf("%w: result of %d bytes", ErrMessageTooLarge, len(payload))), nil
	}

	if h.metrics != nil {
		h.metrics.RecordRows(rec.NumRows())
	}
	return Response{ID: req.ID, OK: true, Rows: rec.NumRows(), HasBatch: true}, payload
}
