// Command loadgen drives a query server or ZeroMQ endpoint with
// concurrent queries and reports throughput and latency.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duckstax/otterbrix-go/api"
	"github.com/duckstax/otterbrix-go/network"
)

// LoadConfig holds configuration for a load run.
type LoadConfig struct {
	Address      string
	ZMQ          bool
	Query        string
	Concurrency  int
	RequestCount int
	Duration     time.Duration
	Timeout      time.Duration
	AuthToken    string
	ReportFile   string
}

// LoadResult holds the results of a load run.
type LoadResult struct {
	TotalRequests  int64
	SuccessfulReqs int64
	FailedReqs     int64
	RowsReturned   int64
	TotalDuration  time.Duration
	AvgLatency     time.Duration
	MinLatency     time.Duration
	MaxLatency     time.Duration
	RequestsPerSec float64
	LastError      string
}

func main() {
	config := parseFlags()

	fmt.Println("=== otterbrix load generator ===")
	fmt.Printf("Target:      %s (zmq: %v)\n", config.Address, config.ZMQ)
	fmt.Printf("Query:       %s\n", config.Query)
	fmt.Printf("Concurrency: %d workers\n", config.Concurrency)
	if config.RequestCount > 0 {
		fmt.Printf("Requests:    %d\n", config.RequestCount)
	} else {
		fmt.Printf("Duration:    %v\n", config.Duration)
	}
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result := runLoad(ctx, config, dialer(config))
	printResults(result)

	if config.ReportFile != "" {
		saveReport(config, result)
	}
}

func parseFlags() LoadConfig {
	config := LoadConfig{}

	flag.StringVar(&config.Address, "addr", "127.0.0.1:7400", "query server address, or tcp://host:port with -zmq")
	flag.BoolVar(&config.ZMQ, "zmq", false, "target a ZeroMQ endpoint")
	flag.StringVar(&config.Query, "q", "SELECT name FROM testdatabase.testcollection;", "statement to run")
	flag.IntVar(&config.Concurrency, "c", 10, "number of concurrent workers")
	flag.IntVar(&config.RequestCount, "n", 0, "total number of requests (0 = unlimited, use -d instead)")
	flag.DurationVar(&config.Duration, "d", 30*time.Second, "duration of the run")
	flag.DurationVar(&config.Timeout, "timeout", 10*time.Second, "per-request timeout")
	flag.StringVar(&config.AuthToken, "token", "", "authentication token")
	flag.StringVar(&config.ReportFile, "o", "", "output report file (JSON)")

	flag.Parse()

	return config
}

// queryFunc runs one statement and returns the number of rows.
type queryFunc func(ctx context.Context, sql string) (int64, error)

// dialFunc opens one worker connection.
type dialFunc func(ctx context.Context) (queryFunc, func() error, error)

func dialer(config LoadConfig) dialFunc {
	if config.ZMQ {
		return func(ctx context.Context) (queryFunc, func() error, error) {
			c, err := network.Dial(config.Address)
			if err != nil {
				return nil, nil, err
			}
			return func(ctx context.Context, sql string) (int64, error) {
				res, err := c.Query(ctx, sql)
				if err != nil {
					return 0, err
				}
				return res.Count, nil
			}, c.Close, nil
		}
	}

	return func(ctx context.Context) (queryFunc, func() error, error) {
		c, err := api.Dial(ctx, config.Address)
		if err != nil {
			return nil, nil, err
		}
		if config.AuthToken != "" {
			if err := c.Authenticate(ctx, config.AuthToken); err != nil {
				_ = c.Close()
				return nil, nil, err
			}
		}
		return func(ctx context.Context, sql string) (int64, error) {
			res, err := c.Query(ctx, sql)
			if err != nil {
				return 0, err
			}
			res.Release()
			return res.Rows, nil
		}, c.Close, nil
	}
}

// counters are shared by all workers.
type counters struct {
	total, success, failed, rows atomic.Int64
	latencySum                   atomic.Int64
	minLatency, maxLatency       atomic.Int64
	budget                       atomic.Int64

	mu      sync.Mutex
	lastErr error
}

func (c *counters) observe(latency time.Duration, rows int64, err error) {
	c.total.Add(1)
	if err != nil {
		c.failed.Add(1)
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		return
	}

	c.success.Add(1)
	c.rows.Add(rows)
	lat := int64(latency)
	c.latencySum.Add(lat)
	for {
		old := c.minLatency.Load()
		if lat >= old || c.minLatency.CompareAndSwap(old, lat) {
			break
		}
	}
	for {
		old := c.maxLatency.Load()
		if lat <= old || c.maxLatency.CompareAndSwap(old, lat) {
			break
		}
	}
}

// take reserves one request from a bounded run.
func (c *counters) take(bounded bool) bool {
	return !bounded || c.budget.Add(-1) >= 0
}

func runLoad(ctx context.Context, config LoadConfig, dial dialFunc) LoadResult {
	var c counters
	c.minLatency.Store(1<<63 - 1)
	c.budget.Store(int64(config.RequestCount))
	bounded := config.RequestCount > 0

	if !bounded {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Duration)
		defer cancel()
	}

	startTime := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < config.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runWorker(ctx, config, dial, bounded, &c)
		}()
	}
	wg.Wait()

	duration := time.Since(startTime)
	total := c.total.Load()
	success := c.success.Load()

	result := LoadResult{
		TotalRequests:  total,
		SuccessfulReqs: success,
		FailedReqs:     c.failed.Load(),
		RowsReturned:   c.rows.Load(),
		TotalDuration:  duration,
		RequestsPerSec: float64(total) / duration.Seconds(),
	}
	if success > 0 {
		result.AvgLatency = time.Duration(c.latencySum.Load() / success)
		result.MinLatency = time.Duration(c.minLatency.Load())
		result.MaxLatency = time.Duration(c.maxLatency.Load())
	}
	if c.lastErr != nil {
		result.LastError = c.lastErr.Error()
	}
	return result
}

func runWorker(ctx context.Context, config LoadConfig, dial dialFunc, bounded bool, c *counters) {
	query, closeFn, err := dial(ctx)
	if err != nil {
		c.observe(0, 0, err)
		return
	}
	defer func() { _ = closeFn() }()

	for ctx.Err() == nil && c.take(bounded) {
		rctx, cancel := context.WithTimeout(ctx, config.Timeout)
		start := time.Now()
		rows, err := query(rctx, config.Query)
		latency := time.Since(start)
		cancel()

		if errors.Is(err, context.Canceled) || (err != nil && ctx.Err() != nil) {
			return
		}
		c.observe(latency, rows, err)
		if err != nil {
			// A failed request may leave the connection out of step.
			_ = closeFn()
			closeFn = func() error { return nil }
			q, cl, err := dial(ctx)
			if err != nil {
				c.observe(0, 0, err)
				return
			}
			query, closeFn = q, cl
			// Small sleep on error to avoid hammering
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func printResults(result LoadResult) {
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:        %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Total Requests:  %d\n", result.TotalRequests)
	fmt.Printf("Successful:      %d (%.2f%%)\n", result.SuccessfulReqs, percent(result.SuccessfulReqs, result.TotalRequests))
	fmt.Printf("Failed:          %d (%.2f%%)\n", result.FailedReqs, percent(result.FailedReqs, result.TotalRequests))
	fmt.Printf("Rows Returned:   %d\n", result.RowsReturned)
	fmt.Printf("Requests/sec:    %.2f\n", result.RequestsPerSec)
	fmt.Printf("Avg Latency:     %v\n", result.AvgLatency.Round(time.Microsecond))
	fmt.Printf("Min Latency:     %v\n", result.MinLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:     %v\n", result.MaxLatency.Round(time.Microsecond))
	if result.LastError != "" {
		fmt.Printf("Last Error:      %s\n", result.LastError)
	}
}

func saveReport(config LoadConfig, result LoadResult) {
	report := map[string]interface{}{
		"config": map[string]interface{}{
			"address":     config.Address,
			"zmq":         config.ZMQ,
			"query":       config.Query,
			"concurrency": config.Concurrency,
			"duration":    config.Duration.String(),
			"requests":    config.RequestCount,
		},
		"results": map[string]interface{}{
			"total_requests":   result.TotalRequests,
			"successful":       result.SuccessfulReqs,
			"failed":           result.FailedReqs,
			"rows_returned":    result.RowsReturned,
			"requests_per_sec": result.RequestsPerSec,
			"avg_latency_ms":   float64(result.AvgLatency.Microseconds()) / 1000,
			"min_latency_ms":   float64(result.MinLatency.Microseconds()) / 1000,
			"max_latency_ms":   float64(result.MaxLatency.Microseconds()) / 1000,
			"last_error":       result.LastError,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, data, 0o644); err != nil {
		log.Printf("Failed to write report: %v", err)
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
