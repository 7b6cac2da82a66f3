// Package driver registers otterbrix as a database/sql driver.
//
//	db, err := sql.Open("otterbrix", "otterbrix:///var/lib/otterbrix?log_level=warn")
//
// All connections of one sql.DB share a single engine instance, closed
// together with the sql.DB. Queries must name their columns; SELECT * is
// rejected. Positional ? arguments are interpolated as SQL literals.
// Transactions are not supported.
package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"

	"github.com/duckstax/otterbrix-go/bridge"
	"github.com/duckstax/otterbrix-go/engine"
)

// DriverName is the name the driver is registered under.
const DriverName = "otterbrix"

// ErrTxUnsupported is returned by Begin.
var ErrTxUnsupported = errors.New("otterbrix: transactions are not supported")

func init() {
	sql.Register(DriverName, &Driver{})
}

// Driver implements driver.Driver and driver.DriverContext.
type Driver struct{}

var (
	_ driver.Driver        = (*Driver)(nil)
	_ driver.DriverContext = (*Driver)(nil)
)

// Open opens a connection on a connector that lives as long as the
// connection.
func (d *Driver) Open(dsn string) (driver.Conn, error) {
	c, err := d.OpenConnector(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := c.Connect(context.Background())
	if err != nil {
		return nil, err
	}
	conn.(*Conn).owner = c.(*Connector)
	return conn, nil
}

// OpenConnector parses dsn. The engine is opened on the first Connect.
func (d *Driver) OpenConnector(dsn string) (driver.Connector, error) {
	parsed, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return &Connector{driver: d, dsn: parsed}, nil
}

// Connector opens one engine and hands out connections sharing it.
type Connector struct {
	driver *Driver
	dsn    *DSN
	opts   []engine.Option

	mu     sync.Mutex
	eng    *engine.Engine
	closed bool
}

var (
	_ driver.Connector = (*Connector)(nil)
)

// NewConnector returns a connector for use with sql.OpenDB. opts are
// passed to engine.Open, which is how a logger, observer or test native
// library reaches the engine.
func NewConnector(dsn string, opts ...engine.Option) (*Connector, error) {
	parsed, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return &Connector{driver: &Driver{}, dsn: parsed, opts: opts}, nil
}

// Connect implements driver.Connector.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	eng, err := c.engine(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{eng: eng}, nil
}

func (c *Connector) engine(ctx context.Context) (*engine.Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, driver.ErrBadConn
	}
	if c.eng != nil {
		return c.eng, nil
	}

	opts := append([]engine.Option{
		engine.WithDefaultCollection(c.dsn.Database, c.dsn.Collection),
	}, c.opts...)
	eng, err := engine.Open(ctx, c.dsn.Config, opts...)
	if err != nil {
		return nil, err
	}
	c.eng = eng
	return eng, nil
}

// Driver implements driver.Connector.
func (c *Connector) Driver() driver.Driver { return c.driver }

// Close closes the shared engine. sql.DB.Close calls it.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.eng == nil {
		return nil
	}
	return c.eng.Close()
}

// Config returns the engine configuration the connector was built from.
func (c *Connector) Config() bridge.Config { return c.dsn.Config }
