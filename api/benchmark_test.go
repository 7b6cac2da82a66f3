package api

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/duckstax/otterbrix-go/bridge"
	"github.com/duckstax/otterbrix-go/bridge/bridgetest"
	"github.com/duckstax/otterbrix-go/engine"
)

const benchQuery = "SELECT name, count, ok FROM testdatabase.testcollection;"

// BenchmarkQuery_10 benchmarks a query returning 10 rows.
func BenchmarkQuery_10(b *testing.B) {
	benchmarkQuery(b, 10)
}

// BenchmarkQuery_1000 benchmarks a query returning 1000 rows.
func BenchmarkQuery_1000(b *testing.B) {
	benchmarkQuery(b, 1000)
}

func benchEngine(tb testing.TB, rows int) *engine.Engine {
	tb.Helper()
	fake := bridgetest.New()
	fake.Script(benchQuery, bridgetest.Result{Docs: createTestDocs(rows)})

	eng, err := engine.Open(context.Background(), bridge.ConfigAt(tb.TempDir()), engine.WithNative(fake))
	if err != nil {
		tb.Fatalf("engine.Open failed: %v", err)
	}
	tb.Cleanup(func() { _ = eng.Close() })
	return eng
}

func benchmarkQuery(b *testing.B, rows int) {
	eng := benchEngine(b, rows)
	server := NewServer(eng, &ServerConfig{Address: "127.0.0.1:0"})
	serveInBackground(b, server)
	defer server.Stop()

	ctx := context.Background()
	client, err := Dial(ctx, server.Addr().String())
	if err != nil {
		b.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		res, err := client.Query(ctx, benchQuery)
		if err != nil {
			b.Fatalf("Query failed: %v", err)
		}
		res.Release()
	}

	b.ReportMetric(float64(rows*b.N)/b.Elapsed().Seconds(), "rows/sec")
}

// BenchmarkHandle benchmarks the handler without the network.
func BenchmarkHandle(b *testing.B) {
	h := NewQueryHandler(benchEngine(b, 100), nil, 0)
	req := Request{ID: "bench", SQL: benchQuery}
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if resp, _ := h.Handle(ctx, req); !resp.OK {
			b.Fatalf("Handle failed: %s", resp.Error)
		}
	}
}

// TestLoadTest_Sustained runs a sustained load test for verification.
func TestLoadTest_Sustained(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping sustained load test in short mode")
	}

	eng := benchEngine(t, 100)
	server := NewServer(eng, &ServerConfig{Address: "127.0.0.1:0"})
	serveInBackground(t, server)
	defer server.Stop()

	duration := 2 * time.Second
	concurrency := 8

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	var totalQueries, totalErrors atomic.Int64
	start := time.Now()

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client, err := Dial(context.Background(), server.Addr().String())
			if err != nil {
				totalErrors.Add(1)
				return
			}
			defer client.Close()

			for ctx.Err() == nil {
				res, err := client.Query(context.Background(), benchQuery)
				if err != nil {
					totalErrors.Add(1)
					continue
				}
				res.Release()
				totalQueries.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	t.Logf("Load Test Results:")
	t.Logf("  Duration: %v", elapsed)
	t.Logf("  Queries: %d", totalQueries.Load())
	t.Logf("  Errors: %d", totalErrors.Load())
	t.Logf("  QPS: %.2f", float64(totalQueries.Load())/elapsed.Seconds())

	if totalErrors.Load() > 0 {
		t.Errorf("Expected no errors, got %d", totalErrors.Load())
	}
	if stats := eng.Stats(); stats.Cursors != 0 || stats.Documents != 0 {
		t.Errorf("Handles left open after load: %+v", stats)
	}
}

func createTestDocs(size int) []any {
	docs := make([]any, size)
	for i := range docs {
		docs[i] = map[string]any{
			"name":  fmt.Sprintf("Name %d", i),
			"count": int64(i),
			"ok":    i%2 == 0,
		}
	}
	return docs
}
