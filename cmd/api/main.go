package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"episode-generator/internal/api"
	"episode-generator/internal/app"
	"episode-generator/internal/config"
	"episode-generator/internal/telemetry"
)

func main() {
	cfg := config.Load()

	logger, err := app.NewLogger(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build runtime", zap.Error(err))
	}

	var limiter api.Limiter
	if rt.Limiter != nil {
		limiter = rt.Limiter
	}
	server := api.New(rt.Processor, limiter, telemetry.Handler(), logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if res := rt.Processor.Start(); !res.Success {
		logger.Warn("processor did not start", zap.String("result", res.Message))
	}

	logger.Info("api listening", zap.String("port", cfg.HTTPPort), zap.Stringer("config", rt.Processor.Config()))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	rt.Shutdown(shutdownCtx)
	logger.Info("api stopped")
}
