// Command server starts the chat relay HTTP server.
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

	"github.com/fairyhunter13/chat-relay/internal/adapter/auth"
	httpserver "github.com/fairyhunter13/chat-relay/internal/adapter/httpserver"
	"github.com/fairyhunter13/chat-relay/internal/adapter/observability"
	"github.com/fairyhunter13/chat-relay/internal/adapter/store"
	"github.com/fairyhunter13/chat-relay/internal/adapter/upstream"
	"github.com/fairyhunter13/chat-relay/internal/app"
	"github.com/fairyhunter13/chat-relay/internal/config"
	"github.com/fairyhunter13/chat-relay/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP, upstream, and dispatch instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Infra: state store backend plus the write-through cache over it
	ctx := context.Background()
	backend, err := store.New(cfg)
	if err != nil {
		slog.Error("state store init failed", slog.Any("error", err))
		os.Exit(1)
	}
	cache := store.NewCache(backend)

	// Upstream adapters
	tokenClient := auth.New(cfg.AuthBaseURL, cfg.AuthTimeout)
	chatClient := upstream.New(cfg.UpstreamBaseURL, cfg.UpstreamTimeout)

	// Usecases
	accounts := usecase.NewAccountService(cache, tokenClient, cfg.Proxies)
	if err := accounts.Hydrate(ctx); err != nil {
		slog.Error("state hydrate failed", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.AccountsFile != "" {
		if err := seedAccounts(ctx, accounts, cfg.AccountsFile); err != nil {
			slog.Error("account seed failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
	dispatch := usecase.NewDispatchService(accounts, chatClient, cfg.DispatchMaxAttempts)

	// Background token refresher
	refreshCtx, stopRefresher := context.WithCancel(ctx)
	defer stopRefresher()
	refresher := usecase.NewTokenRefresher(accounts, tokenClient, cfg)
	go refresher.Run(refreshCtx)

	// HTTP server
	srv := httpserver.NewServer(cfg, dispatch, accounts, app.BuildStoreCheck(backend))
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	stopRefresher()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
