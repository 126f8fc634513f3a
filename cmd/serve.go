package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"artfightwatch/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the poll loops and the feed server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Monitor.Start(ctx); err != nil {
			return err
		}

		srv := server.New(cfg, env.Store, env.Feeds, env.Monitor)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()

		select {
		case <-ctx.Done():
			zap.L().Info("shutdown signal received")
		case err := <-errCh:
			if err != nil {
				env.Monitor.Stop()
				return err
			}
		}

		env.Monitor.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("http server did not drain cleanly", zap.Error(err))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
