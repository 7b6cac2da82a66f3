package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/spf13/pflag"

	"github.com/duckstax/otterbrix-go/api"
	oarrow "github.com/duckstax/otterbrix-go/arrow"
	"github.com/duckstax/otterbrix-go/driver"
	"github.com/duckstax/otterbrix-go/network"
)

// result is a statement outcome ready for display. Statements without
// columns only report the number of documents they touched. record is set
// for results that arrived as Arrow data; release frees it.
type result struct {
	columns []string
	rows    [][]any
	count   int64
	record  arrow.Record
}

func (r *result) release() {
	if r.record != nil {
		r.record.Release()
		r.record = nil
	}
}

type querier interface {
	query(ctx context.Context, sql string) (*result, error)
	close() error
}

// connectFlags select where exec and shell send statements.
type connectFlags struct {
	remote string
	zmq    string
	token  string
}

func (f *connectFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.remote, "remote", "", "query server address instead of the local data directory")
	flags.StringVar(&f.zmq, "zmq-endpoint", "", "ZeroMQ endpoint, such as tcp://127.0.0.1:7401")
	flags.StringVar(&f.token, "token", "", "auth token for --remote")
}

// connect opens a querier for f: a remote server, a ZeroMQ endpoint, or
// the local data directory.
func connect(ctx context.Context, f connectFlags) (querier, error) {
	switch {
	case f.remote != "":
		c, err := api.Dial(ctx, f.remote)
		if err != nil {
			return nil, err
		}
		if f.token != "" {
			if err := c.Authenticate(ctx, f.token); err != nil {
				_ = c.Close()
				return nil, err
			}
		}
		return &remoteQuerier{client: c}, nil

	case f.zmq != "":
		c, err := network.Dial(f.zmq)
		if err != nil {
			return nil, err
		}
		return &zmqQuerier{client: c}, nil

	default:
		return openLocal()
	}
}

// localQuerier runs statements in-process through database/sql.
type localQuerier struct {
	db *sql.DB
}

func openLocal() (*localQuerier, error) {
	ecfg, err := engineConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	dsn := driver.DSN{
		Config:     ecfg,
		Database:   cfg.GetString(cfgKeyDatabase),
		Collection: cfg.GetString(cfgKeyCollection),
	}
	conn, err := driver.NewConnector(dsn.String(), engineOptions(cfg, logger)...)
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(conn)
	db.SetMaxOpenConns(1)
	return &localQuerier{db: db}, nil
}

func (q *localQuerier) query(ctx context.Context, query string) (*result, error) {
	cols, err := driver.Columns(query)
	if err != nil {
		return nil, err
	}

	if len(cols) == 0 {
		res, err := q.db.ExecContext(ctx, query)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		return &result{count: n}, nil
	}

	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := &result{columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out.rows = append(out.rows, vals)
	}
	out.count = int64(len(out.rows))
	return out, rows.Err()
}

func (q *localQuerier) close() error { return q.db.Close() }

// remoteQuerier sends statements to a query server.
type remoteQuerier struct {
	client *api.Client
}

func (q *remoteQuerier) query(ctx context.Context, sql string) (*result, error) {
	res, err := q.client.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer res.Release()

	out := &result{count: res.Rows}
	if res.Record == nil {
		return out, nil
	}
	for _, f := range res.Record.Schema().Fields() {
		out.columns = append(out.columns, f.Name)
	}
	if out.rows, err = oarrow.RecordValues(res.Record); err != nil {
		return nil, err
	}
	res.Record.Retain()
	out.record = res.Record
	return out, nil
}

func (q *remoteQuerier) close() error { return q.client.Close() }

// zmqQuerier sends statements to a ZeroMQ endpoint.
type zmqQuerier struct {
	client *network.Client
}

func (q *zmqQuerier) query(ctx context.Context, sql string) (*result, error) {
	cols, err := driver.Columns(sql)
	if err != nil {
		return nil, err
	}
	res, err := q.client.Query(ctx, sql)
	if err != nil {
		return nil, err
	}

	out := &result{columns: cols, count: res.Count}
	for _, doc := range res.Rows {
		row := make([]any, len(cols))
		for i, e := range doc {
			if i < len(row) {
				row[i] = e.Value
			}
		}
		out.rows = append(out.rows, row)
	}
	return out, nil
}

func (q *zmqQuerier) close() error { return q.client.Close() }

// splitStatements splits input on semicolons outside quotes. Each
// statement keeps its terminating semicolon.
func splitStatements(input string) []string {
	var (
		out   []string
		quote rune
		start int
	)
	for i, r := range input {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == ';':
			if s := strings.TrimSpace(input[start : i+1]); s != ";" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(input[start:]); s != "" {
		out = append(out, s+";")
	}
	return out
}
