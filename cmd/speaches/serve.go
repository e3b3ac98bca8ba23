package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/speaches/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the speech inference HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := activeCfg

			handler, err := server.NewHandler(cfg)
			if err != nil {
				return err
			}

			srv := server.NewServer(cfg.Addr(), handler,
				server.WithShutdownGrace(time.Duration(cfg.Server.ShutdownTimeout)*time.Second))

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}
}
