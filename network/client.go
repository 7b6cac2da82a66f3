package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

// ErrClientClosed is returned by calls on a closed client.
var ErrClientClosed = errors.New("client is closed")

// A client gives up after recvRetries consecutive receive errors, waiting
// recvBackoff doubled per failure in between.
const (
	recvRetries = 5
	recvBackoff = 10 * time.Millisecond
)

// Result is the answer to a query.
type Result struct {
	ID    string
	Count int64
	Rows  []bson.D
}

// Client is a DEALER connection to an Endpoint. It is safe for concurrent
// use; responses are matched to requests by id.
type Client struct {
	dealer zmq4.Socket

	ctx    context.Context
	cancel context.CancelFunc

	sendMu  sync.Mutex
	mu      sync.Mutex
	pending map[string]chan Response
	err     error

	wg sync.WaitGroup
}

// Dial connects to the endpoint at address, such as "tcp://127.0.0.1:7401".
func Dial(address string) (*Client, error) {
	ctx, cancel := context.WithCancel(context.Background())
	dealer := zmq4.NewDealer(ctx, zmq4.WithID(zmq4.SocketIdentity(uuid.NewString())))
	if err := dealer.Dial(address); err != nil {
		cancel()
		_ = dealer.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	return newClient(ctx, cancel, dealer), nil
}

func newClient(ctx context.Context, cancel context.CancelFunc, dealer zmq4.Socket) *Client {
	c := &Client{
		dealer:  dealer,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]chan Response),
	}
	c.wg.Add(1)
	go c.receiverLoop()
	return c
}

func (c *Client) receiverLoop() {
	defer c.wg.Done()

	failures := 0
	for {
		msg, err := c.dealer.Recv()
		if err != nil {
			if c.ctx.Err() != nil {
				c.fail(ErrClientClosed)
				return
			}
			failures++
			if failures >= recvRetries {
				c.fail(fmt.Errorf("receive: %w", err))
				return
			}
			select {
			case <-c.ctx.Done():
				c.fail(ErrClientClosed)
				return
			case <-time.After(recvBackoff << failures):
			}
			continue
		}
		failures = 0

		var resp Response
		if err := bson.Unmarshal(msg.Bytes(), &resp); err != nil {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// fail ends every pending call with err.
func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.err = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Query sends sql and waits for the response. columns override the names
// taken from the SELECT list.
func (c *Client) Query(ctx context.Context, sql string, columns ...string) (*Result, error) {
	req := Request{ID: uuid.NewString(), SQL: sql, Columns: columns}
	data, err := encode(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan Response, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, c.err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.sendMu.Lock()
	err = c.dealer.Send(zmq4.NewMsg(data))
	c.sendMu.Unlock()
	if err != nil {
		c.forget(req.ID)
		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, c.closedErr()
		}
		if err := resp.Err(); err != nil {
			return nil, err
		}
		return &Result{ID: resp.ID, Count: resp.Count, Rows: resp.Rows}, nil
	case <-ctx.Done():
		c.forget(req.ID)
		return nil, ctx.Err()
	}
}

// closedErr returns the error that ended the receiver.
func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClientClosed
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Close closes the connection and fails pending calls.
func (c *Client) Close() error {
	c.cancel()
	err := c.dealer.Close()
	c.wg.Wait()
	return err
}
