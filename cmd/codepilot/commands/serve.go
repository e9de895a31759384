package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/amerfu/codepilot/internal/api/router"
)

// NewServeCommand creates the local gateway command
func NewServeCommand(ctx context.Context) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP gateway",
		Long:  "Expose the router over HTTP and WebSocket for editor integrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := requireApp()
			if err != nil {
				return err
			}

			cfg := a.Config.Server
			if addr != "" {
				cfg.Addr = addr
			}
			log := a.Logger

			srv := &http.Server{
				Addr:              cfg.Addr,
				Handler:           router.NewRouter(cfg, log, a.Router, a.Metrics),
				ReadHeaderTimeout: cfg.ReadTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("Gateway server starting",
					zap.String("address", srv.Addr),
					zap.String("provider", a.Router.GetCurrentProvider()))

				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			// Wait for interrupt signal to gracefully shutdown
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case err := <-errCh:
				if err != nil {
					log.Error("Gateway server failed", zap.Error(err))
					return err
				}
				return nil
			case <-quit:
			case <-ctx.Done():
			}

			log.Info("Shutting down gateway...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulShutdown)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("Gateway forced to shutdown", zap.Error(err))
				return err
			}

			log.Info("Gateway shutdown complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")

	return cmd
}
