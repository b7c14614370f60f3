package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"goalcoach/internal/gateway/config"
	"goalcoach/internal/logging"
)

type globalOptions struct {
	verbose   bool
	port      string
	adapter   string
	storePath string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "coach",
		Short: "Conversational goal coach gateway",
		Long: `coach serves the conversational coaching API and inspects the state it keeps.

Configuration is read from the environment (and a .env file when present);
flags override the matching variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if opts.port != "" {
				cfg.Port = opts.port
				if !strings.Contains(cfg.Port, ":") {
					cfg.Port = ":" + cfg.Port
				}
			}
			if opts.adapter != "" {
				cfg.Adapter.Name = opts.adapter
			}
			if opts.storePath != "" {
				cfg.Store.Path = opts.storePath
			}
			opts.cfg = cfg

			logger, err := logging.New(logging.Config{
				Level:   cfg.Log.Level,
				Format:  cfg.Log.Format,
				Verbose: opts.verbose,
			})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().StringVar(&opts.port, "port", "", "listen address (overrides PORT)")
	root.PersistentFlags().StringVar(&opts.adapter, "adapter", "", "reply adapter (overrides AI_ADAPTER)")
	root.PersistentFlags().StringVar(&opts.storePath, "store", "", "conversation store file (overrides CONVERSATION_STORE_PATH)")

	root.AddCommand(newServeCmd(opts), newStateCmd(opts))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
