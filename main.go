package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codetesla51/kvshape/algorithms"
	"github.com/codetesla51/kvshape/api"
	"github.com/codetesla51/kvshape/config"
	"github.com/codetesla51/kvshape/logger"
	"github.com/codetesla51/kvshape/metrics"
	"github.com/codetesla51/kvshape/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	zl, err := logger.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zl.Sync()
	log := zl.Sugar()

	log.Infow("Starting kvshape server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"backend", cfg.Backend,
	)

	metricsObj, metricsHandler, err := metrics.Setup("kvshape")
	if err != nil {
		log.Fatalw("Failed to setup metrics", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	backend, err := store.Open(ctx, cfg.StoreOptions(zl))
	cancel()
	if err != nil {
		log.Fatalw("Failed to open store", "backend", cfg.Backend, "error", err)
	}

	// Limiter state shares the backend under algorithms.Namespace, which the
	// API refuses to address. It bypasses the metrics so it does not show up
	// as client traffic.
	var limiter algorithms.RateLimiter
	if cfg.Security.RateLimit > 0 {
		limiter, err = algorithms.New(cfg.Security.RateLimitAlgorithm, cfg.Security.RateLimit, cfg.Security.RateLimitWindow, backend)
		if err != nil {
			log.Fatalw("Failed to create rate limiter", "error", err)
		}
		log.Infow("Rate limiting enabled",
			"algorithm", cfg.Security.RateLimitAlgorithm,
			"limit", cfg.Security.RateLimit,
			"window", cfg.Security.RateLimitWindow,
		)
	}

	handler := api.NewHandler(metrics.Instrument(backend, metricsObj), log)
	router := handler.Routes(api.NewMiddleware(log), api.RouteOptions{
		CORSOrigins: cfg.Security.CORSAllowedOrigins,
		Metrics:     metricsHandler,
		Limiter:     limiter,
	})

	// Log configured CORS origins for easier debugging in dev
	if cfg.IsDevelopment() {
		log.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)
	}

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		backend.Close()
		log.Fatalw("Server startup failed", "error", err)
	case sig := <-shutdown:
		log.Infow("Shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}
		if err := backend.Close(); err != nil {
			log.Errorw("Failed to close store", "error", err)
		}
		if err := metricsObj.Shutdown(ctx); err != nil {
			log.Errorw("Failed to shutdown metrics", "error", err)
		}

		log.Infow("Server stopped")
	}
}
