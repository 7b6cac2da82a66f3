package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duckstax/otterbrix-go/engine"
)

// Metrics holds all Prometheus metrics for the engine and its servers. It
// implements engine.Observer.
type Metrics struct {
	// Engine call metrics
	CallsTotal   *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
	RowsReturned prometheus.Histogram

	// Handle metrics
	OpenCursors   prometheus.Gauge
	OpenDocuments prometheus.Gauge
	LeakedHandles *prometheus.CounterVec

	// Executor metrics
	ExecutorActive  prometheus.Gauge
	ExecutorPending prometheus.Gauge

	// Server metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  *prometheus.CounterVec
	AuthFailures      prometheus.Counter
}

var _ engine.Observer = (*Metrics)(nil)

// NewMetrics creates metrics under namespace and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total engine calls by operation and status",
		}, []string{"op", "status"}),
		CallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Engine call latency by operation",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"op"}),
		RowsReturned: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rows_returned",
			Help:      "Number of rows per query result",
			Buckets:   []float64{0, 1, 10, 100, 1000, 10000, 100000},
		}),

		OpenCursors: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_cursors",
			Help:      "Current number of open native cursors",
		}),
		OpenDocuments: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_documents",
			Help:      "Current number of open native documents",
		}),
		LeakedHandles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leaked_handles_total",
			Help:      "Wrappers garbage collected without Close, by kind",
		}, []string{"kind"}),

		ExecutorActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executor_active",
			Help:      "Native calls currently running",
		}),
		ExecutorPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executor_pending",
			Help:      "Native calls waiting for the executor",
		}),

		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open client connections",
		}),
		ConnectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted client connections by transport",
		}, []string{"transport"}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected authentication attempts",
		}),
	}
}

func status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

// ObserveCall records an engine call.
func (m *Metrics) ObserveCall(op string, err error, d time.Duration) {
	m.CallsTotal.WithLabelValues(op, status(err)).Inc()
	m.CallDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveHandles updates the open handle gauges.
func (m *Metrics) ObserveHandles(cursors, documents int) {
	m.OpenCursors.Set(float64(cursors))
	m.OpenDocuments.Set(float64(documents))
}

// ObserveLeak counts a wrapper dropped without Close.
func (m *Metrics) ObserveLeak(kind string) {
	m.LeakedHandles.WithLabelValues(kind).Inc()
}

// RecordRows records the size of a query result.
func (m *Metrics) RecordRows(n int64) {
	m.RowsReturned.Observe(float64(n))
}

// UpdateExecutor updates executor gauges.
func (m *Metrics) UpdateExecutor(stats engine.ExecutorStats) {
	m.ExecutorActive.Set(float64(stats.Active))
	m.ExecutorPending.Set(float64(stats.Pending))
}

// MetricsServer runs an HTTP server exposing /metrics and /health.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a metrics server on addr serving g. health, when
// not nil, decides the /health status.
func NewMetricsServer(addr string, g prometheus.Gatherer, health func() error) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Serve serves on lis until Stop (blocking). It returns nil after Stop.
func (s *MetricsServer) Serve(lis net.Listener) error {
	if err := s.server.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the metrics server.
func (s *MetricsServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
