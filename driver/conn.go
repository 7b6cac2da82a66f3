package driver

import (
	"context"
	"database/sql/driver"
	"errors"

	"github.com/duckstax/otterbrix-go/engine"
)

// Conn is a connection to a shared engine.
type Conn struct {
	eng *engine.Engine
	// owner is set when the connection was opened through Driver.Open and
	// owns its connector.
	owner *Connector
}

var (
	_ driver.Conn               = (*Conn)(nil)
	_ driver.ConnBeginTx        = (*Conn)(nil)
	_ driver.ExecerContext      = (*Conn)(nil)
	_ driver.QueryerContext     = (*Conn)(nil)
	_ driver.ConnPrepareContext = (*Conn)(nil)
	_ driver.Pinger             = (*Conn)(nil)
	_ driver.Validator          = (*Conn)(nil)
)

// Prepare implements driver.Conn.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

// PrepareContext returns a statement that interpolates its arguments on
// every execution. The engine has no prepared statements.
func (c *Conn) PrepareContext(_ context.Context, query string) (driver.Stmt, error) {
	return &Stmt{conn: c, query: query}, nil
}

// Close implements driver.Conn. The engine stays open for other
// connections of the same connector.
func (c *Conn) Close() error {
	if c.owner != nil {
		return c.owner.Close()
	}
	return nil
}

// Begin implements driver.Conn.
func (c *Conn) Begin() (driver.Tx, error) {
	return nil, ErrTxUnsupported
}

// BeginTx implements driver.ConnBeginTx.
func (c *Conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return nil, ErrTxUnsupported
}

// Ping reports whether the engine is open.
func (c *Conn) Ping(context.Context) error {
	if !c.IsValid() {
		return driver.ErrBadConn
	}
	return nil
}

// IsValid implements driver.Validator.
func (c *Conn) IsValid() bool {
	return c.eng.Alive()
}

// ExecContext runs a statement and reports the cursor size as rows affected.
func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	sql, err := interpolate(query, args)
	if err != nil {
		return nil, err
	}

	cur, err := c.eng.Execute(ctx, sql)
	if err != nil {
		return nil, badConn(err)
	}
	defer cur.Close()

	return Result{rows: int64(cur.Size())}, nil
}

// QueryContext runs a statement and returns its documents as rows.
func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	cols, err := Columns(query)
	if err != nil {
		return nil, err
	}
	sql, err := interpolate(query, args)
	if err != nil {
		return nil, err
	}

	cur, err := c.eng.Execute(ctx, sql)
	if err != nil {
		return nil, badConn(err)
	}
	return newRows(cur, cols), nil
}

// badConn tells database/sql to discard connections to a closed engine.
func badConn(err error) error {
	if errors.Is(err, engine.ErrClosed) {
		return driver.ErrBadConn
	}
	return err
}

// Stmt is a statement bound to a connection.
type Stmt struct {
	conn  *Conn
	query string
}

var (
	_ driver.Stmt             = (*Stmt)(nil)
	_ driver.StmtExecContext  = (*Stmt)(nil)
	_ driver.StmtQueryContext = (*Stmt)(nil)
)

// Close implements driver.Stmt.
func (s *Stmt) Close() error { return nil }

// NumInput returns -1: placeholders are counted on execution.
func (s *Stmt) NumInput() int { return -1 }

// Exec implements driver.Stmt.
func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), named(args))
}

// Query implements driver.Stmt.
func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), named(args))
}

// ExecContext implements driver.StmtExecContext.
func (s *Stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.conn.ExecContext(ctx, s.query, args)
}

// QueryContext implements driver.StmtQueryContext.
func (s *Stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.conn.QueryContext(ctx, s.query, args)
}

func named(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}

// ErrNoLastInsertID is returned by Result.LastInsertId.
var ErrNoLastInsertID = errors.New("otterbrix: LastInsertId is not supported")

// Result is the outcome of ExecContext.
type Result struct {
	rows int64
}

// LastInsertId implements driver.Result.
func (r Result) LastInsertId() (int64, error) { return 0, ErrNoLastInsertID }

// RowsAffected returns the number of documents in the statement's cursor.
func (r Result) RowsAffected() (int64, error) { return r.rows, nil }
