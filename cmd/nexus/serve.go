package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pysugar/account-nexus/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background loops and the admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, store, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := app.Start(ctx); err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           api.NewRouter(app, cfg.Server, store),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", "http://"+srv.Addr).Msg("🚀 Account nexus starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				log.Error().Err(err).Msg("❌ Server failed")
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("⚠️ Server shutdown")
		}
		if err := app.Stop(shutdownCtx); err != nil {
			return err
		}
		log.Info().Msg("⏹️ Account nexus stopped")
		return nil
	},
}
