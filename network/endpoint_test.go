package network

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/duckstax/otterbrix-go/api"
	"github.com/duckstax/otterbrix-go/bridge"
	"github.com/duckstax/otterbrix-go/bridge/bridgetest"
	"github.com/duckstax/otterbrix-go/engine"
)

const selectQuery = "SELECT name, count FROM testdatabase.testcollection;"

func startEndpoint(t *testing.T, metrics *api.Metrics) (*Endpoint, *bridgetest.Fake) {
	t.Helper()
	fake := bridgetest.New()
	fake.Script(selectQuery, bridgetest.Result{Docs: []any{
		map[string]any{"name": "Name 1", "count": int64(1)},
		map[string]any{"name": "Name 2", "count": uint64(math.MaxUint64)},
		map[string]any{"name": "Name 3", "count": map[string]any{"nested": true}},
	}})

	eng, err := engine.Open(context.Background(), bridge.ConfigAt(t.TempDir()), engine.WithNative(fake))
	if err != nil {
		t.Fatalf("engine.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })

	ep := NewEndpoint(eng, &EndpointConfig{Host: "127.0.0.1", Port: 0, Workers: 2, Metrics: metrics})
	if err := ep.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(ep.Stop)
	return ep, fake
}

func dial(t *testing.T, ep *Endpoint) *Client {
	t.Helper()
	client, err := Dial(ep.Address())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestEndpointAddress(t *testing.T) {
	ep := NewEndpoint(nil, &EndpointConfig{Host: "127.0.0.1", Port: 7401})
	if ep.Address() != "tcp://127.0.0.1:7401" {
		t.Errorf("Expected address 'tcp://127.0.0.1:7401', got %s", ep.Address())
	}

	started, _ := startEndpoint(t, nil)
	if strings.HasSuffix(started.Address(), ":0") {
		t.Errorf("Expected bound port in address, got %s", started.Address())
	}
	if !started.GetStats().IsRunning {
		t.Error("Expected endpoint to be running")
	}
}

func TestEndpointQuery(t *testing.T) {
	ep, _ := startEndpoint(t, nil)
	client := dial(t, ep)

	res, err := client.Query(testContext(t), selectQuery)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	want := []bson.D{
		{{Key: "name", Value: "Name 1"}, {Key: "count", Value: int64(1)}},
		{{Key: "name", Value: "Name 2"}, {Key: "count", Value: "18446744073709551615"}},
		{{Key: "name", Value: "Name 3"}, {Key: "count", Value: nil}},
	}
	if diff := cmp.Diff(want, res.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
	if res.Count != 3 {
		t.Errorf("Expected count 3, got %d", res.Count)
	}
}

func TestEndpointExec(t *testing.T) {
	ep, fake := startEndpoint(t, nil)
	insert := "INSERT INTO testdatabase.testcollection (_id) VALUES ('1'), ('2');"
	fake.Script(insert, bridgetest.Result{Docs: []any{map[string]any{}, map[string]any{}}})

	res, err := dial(t, ep).Query(testContext(t), insert)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if res.Count != 2 || len(res.Rows) != 0 {
		t.Errorf("Expected count 2 without rows, got %d and %d rows", res.Count, len(res.Rows))
	}
}

func TestEndpointErrors(t *testing.T) {
	ep, fake := startEndpoint(t, nil)
	fake.Script("SELECT a FROM missing.c;", bridgetest.Result{Code: bridge.CodeCollectionNotExists, Message: "missing.c"})
	client := dial(t, ep)
	ctx := testContext(t)

	_, err := client.Query(ctx, "SELECT a FROM missing.c;")
	if !errors.Is(err, bridge.ErrCollectionNotExists) {
		t.Errorf("Expected ErrCollectionNotExists, got %v", err)
	}

	_, err = client.Query(ctx, "SELECT * FROM testdatabase.testcollection;")
	if !errors.Is(err, ErrRemote) {
		t.Errorf("Expected ErrRemote, got %v", err)
	}
}

func TestResponseErr(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want error
	}{
		{"known code", Response{Code: int32(bridge.CodeSQLParseError), Error: "near FROM"}, bridge.ErrSQLParse},
		{"unknown code", Response{Code: 42, Error: "boom"}, bridge.ErrOther},
		{"negative code", Response{Code: -7, Error: "boom"}, bridge.ErrOther},
		{"no code", Response{Error: "bad request"}, ErrRemote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.resp.Err()
			if !errors.Is(err, tt.want) {
				t.Errorf("Err() = %v, want %v", err, tt.want)
			}
		})
	}

	if err := (Response{OK: true, Code: 42}).Err(); err != nil {
		t.Errorf("Expected nil for an ok response, got %v", err)
	}
}

func TestEndpointConcurrentClients(t *testing.T) {
	metrics := api.NewMetrics("test", prometheus.NewRegistry())
	ep, _ := startEndpoint(t, metrics)
	ctx := testContext(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 4; i++ {
		client := dial(t, ep)
		for j := 0; j < 5; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := client.Query(ctx, selectQuery, "name")
				if err == nil && len(res.Rows) != 3 {
					err = errors.New("unexpected row count")
				}
				if err != nil {
					errs <- err
				}
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Query failed: %v", err)
	}

	if got := testutil.ToFloat64(metrics.ConnectionsTotal.WithLabelValues("zmq")); got != 4 {
		t.Errorf("Expected 4 peers, got %v", got)
	}
	if ep.GetStats().PeerCount != 4 {
		t.Errorf("Expected 4 peers in table, got %d", ep.GetStats().PeerCount)
	}

	collectors := ep.Collectors("test")
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors...)
	if got := testutil.ToFloat64(collectors[0]); got != 4 {
		t.Errorf("Expected peers gauge of 4, got %v", got)
	}
	if got := testutil.ToFloat64(collectors[1]); got != 0 {
		t.Errorf("Expected empty queue gauge, got %v", got)
	}
}

func TestClientClose(t *testing.T) {
	ep, fake := startEndpoint(t, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	fake.OnExecute = func(query string) {
		if query == "SELECT slow FROM t;" {
			close(started)
			<-release
		}
	}
	defer close(release)

	client := dial(t, ep)
	errCh := make(chan error, 1)
	go func() {
		_, err := client.Query(context.Background(), "SELECT slow FROM t;")
		errCh <- err
	}()

	<-started
	_ = client.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClientClosed) {
			t.Errorf("Expected ErrClientClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Query did not return after Close")
	}

	if _, err := client.Query(context.Background(), selectQuery); !errors.Is(err, ErrClientClosed) {
		t.Errorf("Expected ErrClientClosed after Close, got %v", err)
	}
}

// brokenSocket fails every receive.
type brokenSocket struct {
	zmq4.Socket
	recvs atomic.Int32
}

var errSocketBroken = errors.New("socket broken")

func (s *brokenSocket) Recv() (zmq4.Msg, error) {
	s.recvs.Add(1)
	return zmq4.Msg{}, errSocketBroken
}

func (s *brokenSocket) Send(zmq4.Msg) error { return nil }
func (s *brokenSocket) Close() error        { return nil }

func TestClientReceiveErrors(t *testing.T) {
	sock := &brokenSocket{}
	ctx, cancel := context.WithCancel(context.Background())
	client := newClient(ctx, cancel, sock)
	defer client.Close()

	_, err := client.Query(testContext(t), "SELECT a FROM t;")
	if !errors.Is(err, errSocketBroken) {
		t.Errorf("Expected the receive error, got %v", err)
	}
	if got := sock.recvs.Load(); got != recvRetries {
		t.Errorf("Expected %d receive attempts, got %d", recvRetries, got)
	}

	if _, err := client.Query(testContext(t), "SELECT a FROM t;"); !errors.Is(err, errSocketBroken) {
		t.Errorf("Expected later calls to fail with the receive error, got %v", err)
	}
}

func TestQueryContextCancel(t *testing.T) {
	ep, fake := startEndpoint(t, nil)
	release := make(chan struct{})
	fake.OnExecute = func(query string) {
		if query == "SELECT slow FROM t;" {
			<-release
		}
	}
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := dial(t, ep).Query(ctx, "SELECT slow FROM t;"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

func TestCleanPeers(t *testing.T) {
	ep := NewEndpoint(nil, &EndpointConfig{PeerTTL: time.Minute})
	ep.peers["old"] = time.Now().Add(-2 * time.Minute)
	ep.peers["new"] = time.Now()

	ep.cleanPeers()

	if _, ok := ep.peers["old"]; ok {
		t.Error("Expected idle peer to be dropped")
	}
	if _, ok := ep.peers["new"]; !ok {
		t.Error("Expected active peer to stay")
	}
}

func TestRequestID(t *testing.T) {
	data, _ := bson.Marshal(Request{ID: "abc", SQL: "x"})
	if got := requestID(data); got != "abc" {
		t.Errorf("Expected abc, got %q", got)
	}
	if got := requestID([]byte{1, 2}); got != "" {
		t.Errorf("Expected empty id for garbage, got %q", got)
	}
}

// FuzzRequestDecode checks that arbitrary payloads never panic the decoder.
func FuzzRequestDecode(f *testing.F) {
	valid, _ := bson.Marshal(Request{ID: "1", SQL: "SELECT a FROM b;", Columns: []string{"a"}})
	f.Add(valid)
	f.Add([]byte{})
	f.Add([]byte{5, 0, 0, 0, 0})

	f.Fuzz(func(t *testing.T, data []byte) {
		var req Request
		if err := bson.Unmarshal(data, &req); err == nil {
			_, _ = encode(req)
		}
		_ = requestID(data)
	})
}
