package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"boxoffice/internal/api"
	"boxoffice/internal/config"
	"boxoffice/internal/logger"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := api.NewComponents(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize components", "error", err)
	}

	server := api.NewServer(cfg, components)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Get().Error("Server failed", "error", err)
		}
	case <-ctx.Done():
	}

	logger.Get().Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Get().Error("Error during cleanup", "error", err)
		os.Exit(1)
	}

	logger.Get().Info("Server stopped")
}
