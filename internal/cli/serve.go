package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfregctl/nfregctl/api/router"
	"github.com/nfregctl/nfregctl/internal/config"
	"github.com/nfregctl/nfregctl/internal/service"
	"github.com/nfregctl/nfregctl/pkg/logger"
)

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "serve the HTTP API for runs and run history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(parent context.Context, opts *options) error {
	cfg := opts.cfg
	closeDB, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	fleet := service.NewFleetService(cfg)
	defer func() {
		if err := fleet.Shutdown(); err != nil {
			logger.WithError(err).Warn("Session close failed")
		}
	}()

	server := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        router.SetupRouter(fleet, cfg.Server.Mode),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	ctx, stop := signalContext(parent)
	defer stop()

	go func() {
		err := config.Watch(ctx, cfg.Path(), func(newCfg *config.Config) {
			if opts.logLevel != "" {
				newCfg.Log.Level = opts.logLevel
			}
			if err := logger.Init(newCfg.Log); err != nil {
				logger.WithError(err).Warn("Logger re-init failed")
			}
			fleet.SetConfig(newCfg)
			logger.WithField("nfs", len(newCfg.NFs)).Info("Config reloaded")
		})
		if err != nil {
			logger.WithError(err).Warn("Config watch stopped")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		return err
	}
	logger.Info("Server exited")
	return nil
}
