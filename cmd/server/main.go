// Command server runs the distconv dispatch service: it accepts job
// submissions, tracks transcoding engines via heartbeat, matches pending
// jobs to idle engines, and reaps work stuck on engines that went dark.
// Wiring here is grounded on the reference server's run()/main() split
// and graceful shutdown sequencing, narrowed from gRPC+REST-gateway to a
// single HTTP listener plus a background reaper goroutine.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segin/distconv/internal/config"
	"github.com/segin/distconv/internal/coordinator"
	"github.com/segin/distconv/internal/httpapi"
	"github.com/segin/distconv/internal/httpapi/handler"
	"github.com/segin/distconv/internal/persist"
	"github.com/segin/distconv/internal/reaper"
	"github.com/segin/distconv/internal/repository"
	"github.com/segin/distconv/internal/repository/memory"
	"github.com/segin/distconv/internal/repository/sqlite"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "distconv: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			fmt.Println("usage: distconv [--api-key secret] [--database path] [--port 8080]")
			return config.ErrHelpRequested
		}
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	repo, err := openRepository(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	defer repo.Close()

	snapshotPath := persist.DefaultPath
	if err := persist.Load(ctx, repo, snapshotPath); err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	persister := persist.New(repo, persist.WithPath(snapshotPath))
	defer persister.Close()

	coord := coordinator.New(repo, coordinator.WithPersister(persister))

	reap := reaper.New(coord)
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		if err := reap.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("reaper exited with error", "error", err)
		}
	}()

	jobsHandler := handler.NewJobs(coord)
	enginesHandler := handler.NewEngines(coord)
	adminHandler := handler.NewAdmin(handler.NewStatsProvider(coord.Stats))

	router := httpapi.NewRouter(jobsHandler, enginesHandler, adminHandler, httpapi.ServerConfig{
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
	})
	server := httpapi.NewAPIServer(router, httpapi.ServerConfig{Port: cfg.Port, APIKey: cfg.APIKey})

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("serve: %w", err)
			return
		}
		serveErr <- nil
	}()

	slog.Info("distconv server started", "port", cfg.Port)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown error", "error", err)
		}

		reap.Stop()
		<-reaperDone

		if err := persister.Save(shutdownCtx); err != nil {
			slog.Warn("final snapshot save failed", "error", err)
		}

		return nil
	case err := <-serveErr:
		if err != nil {
			return err
		}
		reap.Stop()
		<-reaperDone
		return nil
	}
}

func openRepository(ctx context.Context, path string) (repository.Repository, error) {
	if path == "" {
		return memory.New(), nil
	}
	return sqlite.Open(ctx, path)
}
