package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the long-running sync daemon: transport listener, peer discovery, and periodic sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			e, closeFn, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			if err := e.Serve(ctx); err != nil {
				return err
			}

			interval := time.Duration(e.Config.SyncIntervalSeconds) * time.Second
			go func() {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						e.Sync.SyncUp(ctx)
					}
				}
			}()

			log.WithField("device_id", e.Identity.DeviceID).
				WithField("addr", e.Config.ListenAddr).
				Info("noted serving")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit
			log.Info("shutting down")
			cancel()
			return nil
		},
	}
}
