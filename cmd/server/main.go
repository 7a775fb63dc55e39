package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vbscore/backend/internal/config"
	"github.com/vbscore/backend/internal/history"
	"github.com/vbscore/backend/internal/httpapi"
	"github.com/vbscore/backend/internal/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var recorder *history.Recorder
	if cfg.DatabaseURL != "" {
		recorder, err = history.Open(cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("history database unavailable", zap.Error(err))
		}
	}

	reg := registry.New(ctx, registry.Options{
		Expiry:        cfg.MatchExpiry,
		SweepInterval: cfg.SweepInterval,
		Recorder:      recorder,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.SetupRoutes(reg, logger, httpapi.RouterOptions{
			CreateRateLimit:  cfg.CreateRateLimit,
			CreateRateWindow: cfg.CreateRateWindow,
		}),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		reg.Inbox() <- registry.Shutdown{}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
