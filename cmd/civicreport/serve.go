package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"civicreport/internal/api"
	"civicreport/internal/events"
	"civicreport/internal/media"
	"civicreport/internal/service"
	"civicreport/internal/version"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	logger := a.logger
	st, engine, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	var m media.Store = media.Inline{MaxBytes: a.cfg.MaxMediaBytes}
	if a.cfg.MediaBackend == "minio" {
		m, err = media.NewMinIO(ctx, a.cfg, logger)
		if err != nil {
			return err
		}
	}

	pub, err := events.Open(a.cfg, logger)
	if err != nil {
		return err
	}

	svc := service.New(a.cfg, st, m, pub, logger)
	hsrv := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           api.NewRouter(a.cfg, svc, logger),
		ReadTimeout:       time.Duration(a.cfg.HTTPReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.HTTPReadHeaderTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening",
			zap.String("addr", a.cfg.ListenAddr),
			zap.String("store", a.cfg.StoreDriver),
			zap.String("media", a.cfg.MediaBackend),
			zap.String("events", a.cfg.EventsBackend),
			zap.String("version", version.Version),
		)
		if err := hsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		err := hsrv.Shutdown(shCtx)
		// Handlers have returned, so nothing publishes after this.
		if cerr := pub.Close(); cerr != nil {
			logger.Warn("close event publisher", zap.Error(cerr))
		}
		return err
	})
	return g.Wait()
}
