package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/dungeon-lobby/internal/config"
	"github.com/DoyleJ11/dungeon-lobby/internal/engine"
	"github.com/DoyleJ11/dungeon-lobby/internal/httpapi"
	"github.com/DoyleJ11/dungeon-lobby/internal/journal"
	"github.com/DoyleJ11/dungeon-lobby/internal/lobby"
	"github.com/DoyleJ11/dungeon-lobby/internal/logging"
	"github.com/DoyleJ11/dungeon-lobby/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Leave the interface nil when no database is configured.
	var rounds engine.Journal
	if cfg.DatabaseURL != "" {
		store, err := journal.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, store.Close()) }()
		rounds = store
		logger.Info("round journal enabled")
	}

	registry := lobby.NewRegistry(cfg.Capacity, logger.Named("lobby"))
	coordinator := engine.NewCoordinator(logger.Named("engine"), rounds)
	srv := server.New(registry, coordinator, logger.Named("server"), cfg.WriteTimeout)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Host, cfg.Port)
	})

	if cfg.HTTPAddr != "" {
		httpSrv := &http.Server{
			Addr: cfg.HTTPAddr,
			Handler: httpapi.SetupRoutes(httpapi.Deps{
				Registry:     registry,
				Coordinator:  coordinator,
				Server:       srv,
				WriteTimeout: cfg.WriteTimeout,
				Logger:       logger.Named("http"),
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("admin http listening", zap.String("addr", cfg.HTTPAddr))
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin http: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	waitErr := g.Wait()
	logger.Info("shutting down")
	closeErr := srv.Close()
	// No new rounds after Close; let pending journal writes finish before the
	// store is closed.
	coordinator.Wait()
	return multierr.Append(waitErr, closeErr)
}
