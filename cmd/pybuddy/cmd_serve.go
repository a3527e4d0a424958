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

	"pybuddy/internal/grader"
	"pybuddy/internal/llm"
	"pybuddy/internal/sandbox"
	"pybuddy/internal/server"
	"pybuddy/internal/tutor"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := loadCatalog(cfg)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	executor, err := sandbox.New(ctx, cfg.Sandbox)
	if err != nil {
		return fmt.Errorf("start sandbox: %w", err)
	}
	defer func() {
		if err := executor.Close(); err != nil {
			slog.Error("Sandbox cleanup failed", "error", err)
		}
	}()

	store := tutor.NewStore()
	svc := tutor.NewService(store, cat, llm.NewFactory(cfg.LLM), cfg.LLM.RequestTimeout)
	api := server.New(cfg, cat, grader.New(executor), svc)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server starting", "addr", httpServer.Addr, "sandbox", cfg.Sandbox.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Server forced to shutdown", "error", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		sweepSessions(gctx, store, api, cfg.SessionTTL)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server exited")
	return nil
}

// sweepSessions expires idle sessions and rate limiter entries until ctx is done.
func sweepSessions(ctx context.Context, store *tutor.Store, api *server.Server, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	interval := min(ttl/4, time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := store.Sweep(ttl); n > 0 {
				slog.Info("Expired idle sessions", "count", n, "remaining", store.Len())
			}
			api.Limiter().Forget(ttl)
		}
	}
}
