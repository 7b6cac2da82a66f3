package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/duckstax/otterbrix-go/bridge"
	"github.com/duckstax/otterbrix-go/engine"
)

const (
	configFileName = "otterbrix"
	configFileType = "yaml"
	envPrefix      = "OTTERBRIX"

	// Config keys.
	cfgKeyDataDir      = "data_dir"
	cfgKeyLogLevel     = "log_level"
	cfgKeyWAL          = "wal"
	cfgKeyDisk         = "disk"
	cfgKeySync         = "sync"
	cfgKeyDatabase     = "database"
	cfgKeyCollection   = "collection"
	cfgKeyDebug        = "debug"
	cfgKeyAddress      = "server.address"
	cfgKeyQueryTimeout = "server.query_timeout"
	cfgKeyIdleTimeout  = "server.idle_timeout"
	cfgKeyAuthEnabled  = "auth.enabled"
	cfgKeyAuthToken    = "auth.token"
	cfgKeyZMQEnabled   = "zmq.enabled"
	cfgKeyZMQHost      = "zmq.host"
	cfgKeyZMQPort      = "zmq.port"
	cfgKeyZMQWorkers   = "zmq.workers"
	cfgKeyMetricsAddr  = "metrics.address"
	cfgKeyQueueSize    = "engine.queue_size"
)

// loadConfig reads otterbrix.yaml from path, or from the working directory
// and $HOME/.otterbrix when path is empty. Environment variables such as
// OTTERBRIX_SERVER_ADDRESS override the file. A missing file is not an
// error.
func loadConfig(path string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault(cfgKeyDataDir, ".")
	v.SetDefault(cfgKeyLogLevel, "info")
	v.SetDefault(cfgKeyWAL, true)
	v.SetDefault(cfgKeyDisk, true)
	v.SetDefault(cfgKeySync, true)
	v.SetDefault(cfgKeyAddress, ":7400")
	v.SetDefault(cfgKeyQueryTimeout, 30*time.Second)
	v.SetDefault(cfgKeyIdleTimeout, 5*time.Minute)
	v.SetDefault(cfgKeyZMQEnabled, false)
	v.SetDefault(cfgKeyZMQHost, "127.0.0.1")
	v.SetDefault(cfgKeyZMQPort, 7401)
	v.SetDefault(cfgKeyZMQWorkers, 4)
	v.SetDefault(cfgKeyMetricsAddr, ":9090")
	v.SetDefault(cfgKeyQueueSize, 256)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.otterbrix")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// flagKeys maps command line flags to the config keys they override.
var flagKeys = map[string]string{
	"data-dir":        cfgKeyDataDir,
	"log-level":       cfgKeyLogLevel,
	"debug":           cfgKeyDebug,
	"address":         cfgKeyAddress,
	"query-timeout":   cfgKeyQueryTimeout,
	"auth":            cfgKeyAuthEnabled,
	"zmq":             cfgKeyZMQEnabled,
	"zmq-port":        cfgKeyZMQPort,
	"metrics-address": cfgKeyMetricsAddr,
	"queue-size":      cfgKeyQueueSize,
}

// bindFlags lets the flags present on a command override v.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// engineConfig builds the native engine configuration.
func engineConfig(v *viper.Viper) (bridge.Config, error) {
	level, err := bridge.ParseLogLevel(v.GetString(cfgKeyLogLevel))
	if err != nil {
		return bridge.Config{}, err
	}

	dir, err := filepath.Abs(v.GetString(cfgKeyDataDir))
	if err != nil {
		return bridge.Config{}, fmt.Errorf("resolve data dir: %w", err)
	}

	cfg := bridge.ConfigAt(dir)
	cfg.Level = level
	cfg.WALOn = v.GetBool(cfgKeyWAL)
	cfg.DiskOn = v.GetBool(cfgKeyDisk)
	cfg.SyncToDisk = v.GetBool(cfgKeySync)
	return cfg, cfg.Validate()
}

// engineOptions returns the engine options configured by v.
func engineOptions(v *viper.Viper, log *zap.Logger) []engine.Option {
	opts := []engine.Option{
		engine.WithLogger(log),
		engine.WithQueueSize(v.GetInt(cfgKeyQueueSize)),
	}
	if db, coll := v.GetString(cfgKeyDatabase), v.GetString(cfgKeyCollection); db != "" && coll != "" {
		opts = append(opts, engine.WithDefaultCollection(db, coll))
	}
	return opts
}

// newLogger builds a development logger in debug mode and a production
// logger otherwise.
func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		z := zap.NewDevelopmentConfig()
		z.OutputPaths = []string{"stderr"}
		return z.Build()
	}
	return zap.NewProduction()
}
