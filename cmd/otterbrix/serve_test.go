package main

import (
	"context"
	"testing"
	"time"

	"github.com/duckstax/otterbrix-go/api"
	"github.com/duckstax/otterbrix-go/bridge"
	"github.com/duckstax/otterbrix-go/bridge/bridgetest"
	"github.com/duckstax/otterbrix-go/engine"
	"github.com/duckstax/otterbrix-go/network"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthCheck(t *testing.T) {
	eng, err := engine.Open(context.Background(), bridge.ConfigAt(t.TempDir()), engine.WithNative(bridgetest.New()))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer eng.Close()

	server := api.NewServer(eng, &api.ServerConfig{Address: "127.0.0.1:0"})
	if err := server.Listen(); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	ep := network.NewEndpoint(eng, &network.EndpointConfig{Host: "127.0.0.1", Port: 0, Workers: 1})
	health := healthCheck(eng, server, ep)

	if err := health(); err == nil {
		t.Error("Expected unhealthy before the server starts")
	}

	go func() { _ = server.Start() }()
	defer server.Stop()
	waitFor(t, func() bool { return server.Stats().Running })

	if err := health(); err == nil {
		t.Error("Expected unhealthy before the endpoint starts")
	}
	if err := healthCheck(eng, server, nil)(); err != nil {
		t.Errorf("Expected healthy without an endpoint, got %v", err)
	}

	if err := ep.Start(); err != nil {
		t.Fatalf("Endpoint start failed: %v", err)
	}
	if err := health(); err != nil {
		t.Errorf("Expected healthy, got %v", err)
	}

	ep.Stop()
	if err := health(); err == nil {
		t.Error("Expected unhealthy after the endpoint stops")
	}

	ep2 := network.NewEndpoint(eng, &network.EndpointConfig{Host: "127.0.0.1", Port: 0, Workers: 1})
	if err := ep2.Start(); err != nil {
		t.Fatalf("Endpoint start failed: %v", err)
	}
	defer ep2.Stop()
	health = healthCheck(eng, server, ep2)

	_ = eng.Close()
	if err := health(); err == nil {
		t.Error("Expected unhealthy after the engine closes")
	}
}
