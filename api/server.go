// Package api serves engine queries over TCP and exposes Prometheus
// metrics.
//
// Every frame is a 4-byte big-endian length followed by the payload. When
// authentication is enabled the first client frame is an AuthMessage,
// answered by an AuthResponse. After that, each JSON Request is answered by
// a JSON Response header, followed by an Arrow IPC frame when the header's
// has_batch is set.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/duckstax/otterbrix-go/engine"
)

// ServerConfig holds configuration for the query server.
type ServerConfig struct {
	// Address to listen on (e.g., ":7400")
	Address string

	// QueryTimeout bounds each query; zero means no limit.
	QueryTimeout time.Duration

	// IdleTimeout closes connections without traffic; zero means no limit.
	IdleTimeout time.Duration

	Auth    *Authenticator
	Metrics *Metrics
	Logger  *zap.Logger
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:      ":7400",
		QueryTimeout: 30 * time.Second,
		IdleTimeout:  5 * time.Minute,
	}
}

// Server is a TCP server answering query requests.
type Server struct {
	config  ServerConfig
	handler *QueryHandler
	logger  *zap.Logger

	listener net.Listener
	running  bool
	mu       sync.Mutex
	quit     chan struct{}

	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a server for eng.
func NewServer(eng *engine.Engine, config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	cfg := *config
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Auth == nil {
		cfg.Auth = NewAuthenticator(AuthConfig{})
	}

	return &Server{
		config:  cfg,
		handler: NewQueryHandler(eng, cfg.Metrics, cfg.QueryTimeout),
		logger:  cfg.Logger.Named("api"),
		quit:    make(chan struct{}),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen binds the configured address. It is called by Start and may be
// called first to learn the bound address.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server is already running")
	}
	if s.listener != nil {
		return nil
	}

	lis, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	s.listener = lis
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start serves until Stop is called. It blocks.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	lis := s.listener
	s.mu.Unlock()

	s.logger.Info("Query server listening", zap.String("addr", lis.Addr().String()))

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.logger.Error("Accept failed", zap.Error(err))
			return err
		}

		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.quit:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// Stop closes the listener and every open connection, then waits for
// connection handlers to return.
func (s *Server) Stop() {
	s.mu.Lock()
	select {
	case <-s.quit:
		s.mu.Unlock()
		return
	default:
	}

	close(s.quit)
	s.running = false
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			s.logger.Debug("Listener close failed", zap.Error(err))
		}
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// handleConnection serves a single client connection.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	log := s.logger.With(
		zap.String("conn", uuid.NewString()),
		zap.String("remote", conn.RemoteAddr().String()),
	)
	if m := s.config.Metrics; m != nil {
		m.ConnectionsTotal.WithLabelValues("tcp").Inc()
		m.ConnectionsActive.Inc()
		defer m.ConnectionsActive.Dec()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	if s.config.Auth.IsEnabled() {
		if err := s.authenticate(conn); err != nil {
			log.Warn("Authentication failed", zap.Error(err))
			return
		}
	}

	for {
		s.refreshDeadline(conn)

		var req Request
		if err := readJSON(conn, &req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("Read failed", zap.Error(err))
			}
			return
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		start := time.Now()
		resp, payload := s.handler.Handle(ctx, req)
		log.Debug("Query handled",
			zap.String("id", req.ID),
			zap.Bool("ok", resp.OK),
			zap.Int64("rows", resp.Rows),
			zap.Duration("took", time.Since(start)),
		)

		if err := writeJSON(conn, resp); err != nil {
			log.Debug("Write failed", zap.Error(err))
			return
		}
		if resp.HasBatch {
			if err := WriteMessage(conn, payload); err != nil {
				log.Debug("Write failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) refreshDeadline(conn net.Conn) {
	if s.config.IdleTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.config.IdleTimeout))
	}
}

// authenticate runs the handshake on a fresh connection.
func (s *Server) authenticate(conn net.Conn) error {
	s.refreshDeadline(conn)

	var msg AuthMessage
	if err := readJSON(conn, &msg); err != nil {
		return err
	}

	err := ErrAuthRequired
	if msg.Type == "auth" {
		err = s.config.Auth.ValidateToken(msg.Token)
	}

	resp := AuthResponse{Success: err == nil}
	if err != nil {
		resp.Error = ErrAuthFailed.Error()
		if m := s.config.Metrics; m != nil {
			m.AuthFailures.Inc()
		}
	}
	if werr := writeJSON(conn, resp); werr != nil {
		return werr
	}
	return err
}

// ServerStats is a snapshot of the server's state.
type ServerStats struct {
	Address     string `json:"address"`
	Connections int    `json:"connections"`
	Running     bool   `json:"running"`
}

// Stats returns the bound address, the number of open connections and
// whether Start is serving.
func (s *Server) Stats() ServerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := ServerStats{Address: s.config.Address, Connections: len(s.conns), Running: s.running}
	if s.listener != nil {
		stats.Address = s.listener.Addr().String()
	}
	return stats
}
