package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/duckstax/otterbrix-go/bridge"
	"github.com/duckstax/otterbrix-go/bridge/bridgetest"
	"github.com/duckstax/otterbrix-go/engine"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	v, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if v.GetString(cfgKeyAddress) != ":7400" {
		t.Errorf("Expected default address, got %q", v.GetString(cfgKeyAddress))
	}
	if v.GetDuration(cfgKeyQueryTimeout) != 30*time.Second {
		t.Errorf("Expected 30s query timeout, got %v", v.GetDuration(cfgKeyQueryTimeout))
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "otterbrix.yaml")
	content := `data_dir: /var/lib/otterbrix
log_level: warn
wal: false
server:
  address: ":8000"
zmq:
  enabled: true
  port: 9001
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OTTERBRIX_SERVER_ADDRESS", ":8100")

	v, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}

	if got := v.GetString(cfgKeyAddress); got != ":8100" {
		t.Errorf("Expected env to override address, got %q", got)
	}
	if !v.GetBool(cfgKeyZMQEnabled) || v.GetInt(cfgKeyZMQPort) != 9001 {
		t.Errorf("Unexpected zmq settings: %v %v", v.GetBool(cfgKeyZMQEnabled), v.GetInt(cfgKeyZMQPort))
	}

	ecfg, err := engineConfig(v)
	if err != nil {
		t.Fatalf("engineConfig failed: %v", err)
	}
	want := bridge.ConfigAt("/var/lib/otterbrix")
	want.Level = bridge.LogWarn
	want.WALOn = false
	if ecfg != want {
		t.Errorf("engineConfig = %+v, want %+v", ecfg, want)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for a missing explicit config file")
	}
}

func TestEngineConfigInvalidLevel(t *testing.T) {
	t.Chdir(t.TempDir())
	v, _ := loadConfig("")
	v.Set(cfgKeyLogLevel, "loud")

	if _, err := engineConfig(v); err == nil {
		t.Error("Expected error for unknown log level")
	}
}

func TestBindFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	v, _ := loadConfig("")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("address", ":7400", "")
	flags.Bool("zmq", false, "")
	if err := flags.Parse([]string{"--address", ":9999", "--zmq"}); err != nil {
		t.Fatal(err)
	}

	if err := bindFlags(v, flags); err != nil {
		t.Fatalf("bindFlags failed: %v", err)
	}
	if got := v.GetString(cfgKeyAddress); got != ":9999" {
		t.Errorf("Expected flag to override address, got %q", got)
	}
	if !v.GetBool(cfgKeyZMQEnabled) {
		t.Error("Expected --zmq to enable the endpoint")
	}
	if got := v.GetString(cfgKeyMetricsAddr); got != ":9090" {
		t.Errorf("Unbound keys should keep defaults, got %q", got)
	}
}

func TestOpenEngineQueueSize(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OTTERBRIX_ENGINE_QUEUE_SIZE", "32")

	v, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	cfg, logger = v, zap.NewNop()

	eng, err := openEngine(context.Background(), engine.WithNative(bridgetest.New()))
	if err != nil {
		t.Fatalf("openEngine failed: %v", err)
	}
	defer eng.Close()

	if got := eng.Stats().Executor.Capacity; got != 32 {
		t.Errorf("Executor capacity = %d, want 32", got)
	}
}
