package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/uuid"

	oarrow "github.com/duckstax/otterbrix-go/arrow"
)

// Result is the answer to a query. Record is nil for statements without
// columns; otherwise the caller must release it.
type Result struct {
	ID     string
	Rows   int64
	Record arrow.Record
}

// Release releases the result's record.
func (r *Result) Release() {
	if r.Record != nil {
		r.Record.Release()
		r.Record = nil
	}
}

// Client is a connection to a query server. Requests on one client are
// serialized.
type Client struct {
	conn net.Conn
	ipc  *oarrow.IPCWriter
	mu   sync.Mutex
}

// Dial connects to a query server.
func Dial(ctx context.Context, address string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return &Client{conn: conn, ipc: oarrow.NewIPCWriter()}, nil
}

// withDeadline applies ctx's deadline to the connection and interrupts
// blocked I/O when ctx is cancelled.
func (c *Client) withDeadline(ctx context.Context) func() {
	if d, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(d)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	return func() { stop() }
}

// Authenticate performs the auth handshake. It must be the first call on
// a connection to a server with authentication enabled.
func (c *Client) Authenticate(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.withDeadline(ctx)()

	if err := writeJSON(c.conn, AuthMessage{Type: "auth", Token: token}); err != nil {
		return c.ctxErr(ctx, err)
	}
	var resp AuthResponse
	if err := readJSON(c.conn, &resp); err != nil {
		return c.ctxErr(ctx, err)
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", ErrAuthFailed, resp.Error)
	}
	return nil
}

// Query sends sql and waits for the result. columns override the names
// taken from the SELECT list. After a cancelled call the connection is out
// of step with the server and the client should be closed.
func (c *Client) Query(ctx context.Context, sql string, columns ...string) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.withDeadline(ctx)()

	req := Request{ID: uuid.NewString(), SQL: sql, Columns: columns}
	if err := writeJSON(c.conn, req); err != nil {
		return nil, c.ctxErr(ctx, err)
	}

	var resp Response
	if err := readJSON(c.conn, &resp); err != nil {
		return nil, c.ctxErr(ctx, err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("response id %q does not match request %q", resp.ID, req.ID)
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}

	result := &Result{ID: resp.ID, Rows: resp.Rows}
	if !resp.HasBatch {
		return result, nil
	}

	payload, err := ReadMessage(c.conn)
	if err != nil {
		return nil, c.ctxErr(ctx, err)
	}
	rec, err := c.ipc.DeserializeFromIPC(payload)
	if err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	result.Record = rec
	return result, nil
}

// ctxErr prefers the context's error over the I/O error it caused.
func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Join(ctxErr, err)
	}
	return err
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
