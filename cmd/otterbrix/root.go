package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/duckstax/otterbrix-go/engine"
)

// Global flag values.
var flagConfig string

// Set by PersistentPreRunE for all subcommands.
var (
	cfg    *viper.Viper
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:     Name,
	Short:   "Embedded otterbrix document database",
	Version: Version,
	Long: `otterbrix runs the embedded otterbrix engine as a query server, executes
SQL against a local data directory or a remote server, and offers an
interactive shell.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v, err := loadConfig(flagConfig)
		if err != nil {
			return err
		}
		if err := bindFlags(v, cmd.Flags()); err != nil {
			return err
		}
		cfg = v

		l, err := newLogger(v.GetBool(cfgKeyDebug))
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", "", "config file (default: ./otterbrix.yaml or ~/.otterbrix/otterbrix.yaml)")
	flags.String("data-dir", ".", "directory holding log, wal and disk data")
	flags.String("log-level", "info", "native engine log level (trace, debug, info, warn, error, critical, off)")
	flags.Bool("debug", false, "verbose development logging")
	flags.Int("queue-size", 256, "native calls allowed to wait for the engine thread")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(tokenCmd)
}

// openEngine opens the engine configured by cfg.
func openEngine(ctx context.Context, opts ...engine.Option) (*engine.Engine, error) {
	ecfg, err := engineConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	return engine.Open(ctx, ecfg, append(engineOptions(cfg, logger), opts...)...)
}
