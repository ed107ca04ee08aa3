package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dkoval/atelier/internal/app"
	"github.com/dkoval/atelier/internal/config"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fallbackLogger := app.NewLogger(os.Getenv("APP_ENV"))
		fallbackLogger.Fatal().Err(err).Msg("config error")
	}

	result, err := app.Build(context.Background(), cfg)
	if err != nil {
		fallbackLogger := app.NewLogger(cfg.AppEnv)
		fallbackLogger.Fatal().Err(err).Msg("build failed")
	}
	logger := result.Logger

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: result.API.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	result.Manager.StartJanitor(runCtx, 30*time.Second)

	go func() {
		logger.Info().
			Str("addr", cfg.BindAddr).
			Str("engine_mode", cfg.EngineMode).
			Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	if err := result.Cleanup(); err != nil {
		logger.Warn().Err(err).Msg("cleanup failed")
	}
	logger.Info().Msg("shutdown complete")
}
