package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/dappbot-ops/platform/go/auth"
	"github.com/zenGate-Global/dappbot-ops/platform/go/config"
	platformlogging "github.com/zenGate-Global/dappbot-ops/platform/go/logging"
	platformmiddleware "github.com/zenGate-Global/dappbot-ops/platform/go/middleware"
	"github.com/zenGate-Global/dappbot-ops/platform/go/requesttrace"
	"github.com/zenGate-Global/dappbot-ops/platform/go/setups"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "worker",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, err := setups.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("wire worker", zap.Error(err))
	}
	defer stack.Close()

	rootRouter := chi.NewRouter()
	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
	)
	rootRouter.Use(platformlogging.RequestLogger(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := stack.Pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Handle("/metrics", promhttp.HandlerFor(stack.Registry, promhttp.HandlerOpts{}))

	triggerRouter := chi.NewRouter()
	if cfg.TriggerAudience != "" {
		verify, err := platformauth.GoogleIDTokenVerifier(ctx, cfg.TriggerAudience)
		if err != nil {
			logger.Fatal("init trigger auth", zap.Error(err))
		}
		triggerRouter.Use(platformauth.Require(verify, cfg.TriggerCallers))
	} else {
		logger.Warn("trigger endpoints are unauthenticated (TRIGGER_AUDIENCE unset)")
	}
	triggerRouter.Use(platformmiddleware.RequestTrace)
	stack.Handler.Routes(triggerRouter)
	rootRouter.Mount("/v1/triggers", triggerRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	var wg sync.WaitGroup
	if stack.Poller != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := stack.Poller.Run(ctx); err != nil {
				logger.Error("poller stopped", zap.Error(err))
			}
		}()
	}
	if cfg.CleanupInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runCleanupTicker(ctx, stack, cfg.CleanupInterval)
		}()
	}

	go func() {
		logger.Info("starting worker", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	wg.Wait()
}

// runCleanupTicker fires one cleanup per interval. Ticks never overlap: a slow tick
// delays the next one.
func runCleanupTicker(ctx context.Context, stack *setups.Stack, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trigger := requesttrace.New(requesttrace.SourceTicker, "")
			logger := stack.Logger.With(trigger.Fields()...)
			tickCtx := platformlogging.WithLogger(requesttrace.IntoContext(ctx, trigger), logger)
			if _, err := stack.Handler.Cleanup(tickCtx); err != nil {
				logger.Warn("scheduled cleanup incomplete", zap.Error(err))
			}
		}
	}
}
