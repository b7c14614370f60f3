package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"goalcoach/internal/gateway/app"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, opts.cfg, opts.logger)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- a.Start()
			}()

			select {
			case err := <-errCh:
				_ = a.Close()
				return err
			case <-ctx.Done():
			}

			opts.logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.Shutdown(shutdownCtx); err != nil {
				opts.logger.Error("server forced to shutdown", zap.Error(err))
				return err
			}
			opts.logger.Info("server exited")
			return nil
		},
	}
}
