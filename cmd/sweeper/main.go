package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"boxoffice/internal/api"
	"boxoffice/internal/config"
	"boxoffice/internal/logger"
)

// sweeper runs the expiry sweeper and the admission advancer against the shared stores
func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	if cfg.StoreDriver == "memory" || cfg.AdmissionDriver == "memory" {
		logger.Fatal("Memory drivers are process-local; their jobs run inside the API",
			"store_driver", cfg.StoreDriver,
			"admission_driver", cfg.AdmissionDriver)
	}

	// Separate client id so the API and the worker can share a NATS cluster
	cfg.Messaging.ClientID = cfg.Messaging.ClientID + "-sweeper"

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := api.NewComponents(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize components", "error", err)
	}

	sweeper, advancer := components.Jobs(cfg)
	sweeper.Start(ctx)
	if advancer != nil {
		advancer.Start(ctx)
	}

	logger.Get().Info("Sweeper started",
		"sweep_interval", cfg.Jobs.SweepInterval,
		"admission", advancer != nil)

	<-ctx.Done()
	logger.Get().Info("Shutting down sweeper...")

	if advancer != nil {
		advancer.Stop()
	}
	sweeper.Stop()

	if err := components.Close(); err != nil {
		logger.Get().Error("Error during cleanup", "error", err)
	}

	logger.Get().Info("Sweeper stopped")
}
