package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/duckstax/otterbrix-go/api"
	"github.com/duckstax/otterbrix-go/engine"
	"github.com/duckstax/otterbrix-go/network"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve queries over TCP, and optionally ZeroMQ",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.String("address", ":7400", "TCP query server address")
	flags.Duration("query-timeout", 30*time.Second, "per-query timeout (0 disables)")
	flags.Bool("auth", false, "require a token (auth.token or OTTERBRIX_AUTH_TOKEN)")
	flags.Bool("zmq", false, "also serve queries on a ZeroMQ endpoint")
	flags.Int("zmq-port", 7401, "ZeroMQ endpoint port")
	flags.String("metrics-address", ":9090", "Prometheus metrics and health address (empty disables)")
}

// authenticator builds the server authenticator. A generated token is
// logged once so that clients can connect.
func authenticator() (*api.Authenticator, error) {
	enabled, token := cfg.GetBool(cfgKeyAuthEnabled), cfg.GetString(cfgKeyAuthToken)
	if !enabled {
		return api.NewAuthenticator(api.AuthConfig{}), nil
	}
	if token == "" {
		var err error
		if token, err = api.GenerateToken(); err != nil {
			return nil, err
		}
		logger.Warn("No auth token configured, generated one", zap.String("token", token))
	}
	return api.NewAuthenticator(api.AuthConfig{Enabled: true, Token: token}), nil
}

func serve(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := api.NewMetrics("otterbrix", reg)

	eng, err := openEngine(ctx, engine.WithObserver(metrics))
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("Engine close failed", zap.Error(err))
		}
	}()

	auth, err := authenticator()
	if err != nil {
		return err
	}

	server := api.NewServer(eng, &api.ServerConfig{
		Address:      cfg.GetString(cfgKeyAddress),
		QueryTimeout: cfg.GetDuration(cfgKeyQueryTimeout),
		IdleTimeout:  cfg.GetDuration(cfgKeyIdleTimeout),
		Auth:         auth,
		Metrics:      metrics,
		Logger:       logger,
	})
	if err := server.Listen(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		server.Stop()
		return nil
	})

	var ep *network.Endpoint
	if cfg.GetBool(cfgKeyZMQEnabled) {
		ep = network.NewEndpoint(eng, &network.EndpointConfig{
			Host:         cfg.GetString(cfgKeyZMQHost),
			Port:         cfg.GetInt(cfgKeyZMQPort),
			QueryTimeout: cfg.GetDuration(cfgKeyQueryTimeout),
			Workers:      cfg.GetInt(cfgKeyZMQWorkers),
			QueueSize:    1000,
			Metrics:      metrics,
			Logger:       logger,
		})
		if err := ep.Start(); err != nil {
			server.Stop()
			return fmt.Errorf("start zmq endpoint: %w", err)
		}
		reg.MustRegister(ep.Collectors("otterbrix")...)
		g.Go(func() error {
			<-gctx.Done()
			ep.Stop()
			return nil
		})
	}

	if addr := cfg.GetString(cfgKeyMetricsAddr); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			server.Stop()
			if ep != nil {
				ep.Stop()
			}
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		ms := api.NewMetricsServer(addr, reg, healthCheck(eng, server, ep))
		g.Go(func() error { return ms.Serve(lis) })
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return ms.Stop(sctx)
		})
		logger.Info("Metrics server listening", zap.String("addr", lis.Addr().String()))
	}

	logger.Info("Serving", zap.String("version", Version))
	err = g.Wait()
	logger.Info("Shutting down")
	return err
}

// healthCheck reports the first serving component that is down. ep may be
// nil when ZeroMQ is disabled.
func healthCheck(eng *engine.Engine, server *api.Server, ep *network.Endpoint) func() error {
	return func() error {
		if !eng.Alive() {
			return errors.New("engine closed")
		}
		if !server.Stats().Running {
			return errors.New("query server not running")
		}
		if ep != nil && !ep.GetStats().IsRunning {
			return errors.New("zmq endpoint not running")
		}
		return nil
	}
}
