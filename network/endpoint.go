// Package network serves engine queries over ZeroMQ.
//
// An Endpoint binds a ROUTER socket; clients connect with DEALER sockets
// and exchange single-frame BSON messages. Each Request is answered by one
// Response carrying the same id, so a client may pipeline requests and
// match answers as they arrive.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	oarrow "github.com/duckstax/otterbrix-go/arrow"
	"github.com/duckstax/otterbrix-go/api"
	"github.com/duckstax/otterbrix-go/engine"
)

// Common errors for endpoint operations
var (
	ErrNotRunning = errors.New("endpoint is not running")
	ErrBusy       = errors.New("endpoint is busy")
)

// EndpointConfig holds configuration for an Endpoint.
type EndpointConfig struct {
	Host string
	Port int

	// QueryTimeout bounds each query; zero means no limit.
	QueryTimeout time.Duration
	// Workers is the number of requests handled concurrently.
	Workers int
	// QueueSize bounds requests waiting for a worker. Requests beyond it
	// are answered with ErrBusy.
	QueueSize int
	// PeerTTL is how long an idle peer stays in the peer table.
	PeerTTL time.Duration

	Metrics *api.Metrics
	Logger  *zap.Logger
}

// DefaultEndpointConfig returns an EndpointConfig with sensible defaults.
func DefaultEndpointConfig() *EndpointConfig {
	return &EndpointConfig{
		Host:         "127.0.0.1",
		Port:         7401,
		QueryTimeout: 30 * time.Second,
		Workers:      4,
		QueueSize:    1000,
		PeerTTL:      5 * time.Minute,
	}
}

type incoming struct {
	peer    []byte
	payload []byte
}

// Endpoint answers BSON query requests on a ROUTER socket.
type Endpoint struct {
	eng     *engine.Engine
	config  EndpointConfig
	address string
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	router zmq4.Socket
	sendMu sync.Mutex

	peers map[string]time.Time
	mu    sync.RWMutex

	work chan incoming

	running bool
	wg      sync.WaitGroup
}

// NewEndpoint creates an endpoint for eng.
func NewEndpoint(eng *engine.Engine, config *EndpointConfig) *Endpoint {
	if config == nil {
		config = DefaultEndpointConfig()
	}
	cfg := *config
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.PeerTTL <= 0 {
		cfg.PeerTTL = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Endpoint{
		eng:     eng,
		config:  cfg,
		address: fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port),
		logger:  cfg.Logger.Named("network"),
		ctx:     ctx,
		cancel:  cancel,
		peers:   make(map[string]time.Time),
		work:    make(chan incoming, cfg.QueueSize),
	}
}

// Start binds the ROUTER socket and starts serving in the background.
func (e *Endpoint) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("endpoint already running")
	}

	e.router = zmq4.NewRouter(e.ctx, zmq4.WithID(zmq4.SocketIdentity("otterbrix-"+uuid.NewString())))
	if err := e.router.Listen(e.address); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to bind router: %w", err)
	}
	e.running = true
	e.mu.Unlock()

	e.logger.Info("ZMQ endpoint listening", zap.String("addr", e.Address()))

	e.wg.Add(1)
	go e.receiverLoop()

	for i := 0; i < e.config.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}

	e.wg.Add(1)
	go e.peerCleaner()

	return nil
}

// Address returns the endpoint's address. After Start it reflects the
// bound port.
func (e *Endpoint) Address() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.router != nil {
		if addr, ok := e.router.Addr().(*net.TCPAddr); ok && addr != nil {
			return fmt.Sprintf("tcp://%s", addr.String())
		}
	}
	return e.address
}

// Stop closes the socket and waits for in-flight requests.
func (e *Endpoint) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.cancel()
	if err := e.router.Close(); err != nil {
		e.logger.Debug("Router close failed", zap.Error(err))
	}
	e.wg.Wait()
}

// receiverLoop reads requests from the ROUTER socket.
func (e *Endpoint) receiverLoop() {
	defer e.wg.Done()

	for {
		msg, err := e.router.Recv()
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			e.logger.Debug("Receive failed", zap.Error(err))
			select {
			case <-e.ctx.Done():
				return
			case <-time.After(recvBackoff):
			}
			continue
		}
		if len(msg.Frames) < 2 {
			continue
		}
		in := incoming{peer: msg.Frames[0], payload: msg.Frames[len(msg.Frames)-1]}
		e.seen(string(in.peer))

		select {
		case e.work <- in:
		default:
			e.reply(in.peer, errorResponse(requestID(in.payload), ErrBusy))
		}
	}
}

func (e *Endpoint) worker() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case in := <-e.work:
			var req Request
			if err := bson.Unmarshal(in.payload, &req); err != nil {
				e.reply(in.peer, errorResponse("", fmt.Errorf("decode request: %w", err)))
				continue
			}
			if req.ID == "" {
				req.ID = uuid.NewString()
			}
			e.reply(in.peer, e.handle(req))
		}
	}
}

// handle runs one request.
func (e *Endpoint) handle(req Request) Response {
	if req.SQL == "" {
		return errorResponse(req.ID, api.ErrEmptyQuery)
	}
	cols, err := api.Columns(api.Request{SQL: req.SQL, Columns: req.Columns})
	if err != nil {
		return errorResponse(req.ID, err)
	}

	ctx := e.ctx
	if e.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	cur, err := e.eng.Execute(ctx, req.SQL)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	defer cur.Close()

	resp := Response{ID: req.ID, OK: true, Count: int64(cur.Size())}
	if len(cols) > 0 {
		rows, err := oarrow.ReadRows(cur, cols)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		resp.Rows = rowDocuments(cols, rows)
		resp.Count = int64(len(rows))
		if m := e.config.Metrics; m != nil {
			m.RecordRows(resp.Count)
		}
	}

	e.logger.Debug("Query handled",
		zap.String("id", req.ID),
		zap.Int64("count", resp.Count),
		zap.Duration("took", time.Since(start)),
	)
	return resp
}

func (e *Endpoint) reply(peer []byte, resp Response) {
	data, err := encode(resp)
	if err != nil {
		e.logger.Error("Encode response failed", zap.Error(err))
		data, _ = encode(errorResponse(resp.ID, err))
	}

	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	if err := e.router.Send(zmq4.NewMsgFrom(peer, data)); err != nil {
		e.logger.Debug("Send failed", zap.String("peer", string(peer)), zap.Error(err))
	}
}

// requestID extracts the id of a request that will not be decoded fully.
func requestID(payload []byte) string {
	if v, err := bson.Raw(payload).LookupErr("id"); err == nil {
		if id, ok := v.StringValueOK(); ok {
			return id
		}
	}
	return ""
}

// seen records activity from a peer.
func (e *Endpoint) seen(peer string) {
	e.mu.Lock()
	_, known := e.peers[peer]
	e.peers[peer] = time.Now()
	e.mu.Unlock()

	if !known {
		e.logger.Debug("New peer", zap.String("peer", peer))
		if m := e.config.Metrics; m != nil {
			m.ConnectionsTotal.WithLabelValues("zmq").Inc()
		}
	}
}

// peerCleaner periodically drops idle peers.
func (e *Endpoint) peerCleaner() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.PeerTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.cleanPeers()
		}
	}
}

func (e *Endpoint) cleanPeers() {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := time.Now().Add(-e.config.PeerTTL)
	for peer, last := range e.peers {
		if last.Before(cutoff) {
			delete(e.peers, peer)
		}
	}
}

// EndpointStats contains endpoint statistics.
type EndpointStats struct {
	Address   string `json:"address"`
	PeerCount int    `json:"peer_count"`
	IsRunning bool   `json:"is_running"`
	QueueSize int    `json:"queue_size"`
}

// GetStats returns current endpoint statistics.
func (e *Endpoint) GetStats() EndpointStats {
	addr := e.Address()

	e.mu.RLock()
	defer e.mu.RUnlock()
	return EndpointStats{
		Address:   addr,
		PeerCount: len(e.peers),
		IsRunning: e.running,
		QueueSize: len(e.work),
	}
}

// Collectors returns gauges for the peer table and the request queue. They
// read GetStats when scraped.
func (e *Endpoint) Collectors(namespace string) []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "zmq",
			Name:      "peers",
			Help:      "Peers active within the peer TTL",
		}, func() float64 { return float64(e.GetStats().PeerCount) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "zmq",
			Name:      "queued_requests",
			Help:      "Requests waiting for a worker",
		}, func() float64 { return float64(e.GetStats().QueueSize) }),
	}
}
