package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"boxoffice/internal/admission"
	"boxoffice/internal/config"
	"boxoffice/internal/database"
	"boxoffice/internal/external"
	"boxoffice/internal/jobs"
	"boxoffice/internal/messaging"
	"boxoffice/internal/metrics"
	"boxoffice/internal/repository"
	"boxoffice/internal/service"
)

// Components are the stores and clients shared by the API and the worker processes
type Components struct {
	DB        *database.DB
	Redis     *redis.Client
	Repos     *repository.Repositories
	Admission admission.Controller
	Catalog   service.Catalog
	Search    *external.CatalogClient
	Gateway   *external.PaymentClient
	Publisher messaging.Publisher
	Metrics   *metrics.Metrics
}

// NewComponents connects every backing service selected by cfg
func NewComponents(ctx context.Context, cfg *config.Config) (*Components, error) {
	c := &Components{Metrics: metrics.New()}

	switch cfg.StoreDriver {
	case "memory":
		c.Repos = repository.NewMemoryRepositories()
	case "postgres":
		db, err := database.Connect(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.DB = db
		if err := db.RunMigrations(); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		c.Repos = repository.NewRepositories(db)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	switch cfg.AdmissionDriver {
	case "off":
	case "memory":
		c.Admission = admission.NewMemoryController(cfg.Admission)
	case "redis":
		client, err := admission.NewRedisClient(cfg.Redis)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		c.Redis = client
		c.Admission = admission.NewRedisController(client, cfg.Admission)
	default:
		c.Close()
		return nil, fmt.Errorf("unknown admission driver %q", cfg.AdmissionDriver)
	}

	if cfg.CatalogEnabled {
		search, err := external.NewCatalogClient(cfg.Catalog)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create catalog client: %w", err)
		}
		if err := search.EnsureIndex(ctx); err != nil {
			slog.Warn("Catalog index not ready", "index", cfg.Catalog.Index, "error", err)
		}
		c.Search = search
		c.Catalog = search
	} else {
		c.Catalog = external.NewStaticCatalog(c.Repos.Seats, nil)
	}

	publisher, err := messaging.New(cfg.Messaging)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}
	c.Publisher = publisher
	c.Gateway = external.NewPaymentClient(cfg.Payment)

	return c, nil
}

// Services builds the reservation services on top of the components
func (c *Components) Services(cfg service.Config) *service.Services {
	return service.NewServices(service.Dependencies{
		Repos:     c.Repos,
		Admission: c.Admission,
		Gateway:   c.Gateway,
		Catalog:   c.Catalog,
		Publisher: c.Publisher,
		Metrics:   c.Metrics,
	}, cfg)
}

// Jobs builds the expiry sweeper and, with admission on, the admission advancer
func (c *Components) Jobs(cfg *config.Config) (*jobs.ExpirySweeper, *jobs.AdmissionAdvancer) {
	sweeper := jobs.NewExpirySweeper(c.Repos.Seats, c.Repos.Reservations, c.Admission, c.Publisher, c.Metrics, cfg.Jobs)

	if c.Admission == nil {
		return sweeper, nil
	}
	return sweeper, jobs.NewAdmissionAdvancer(c.Admission, c.Publisher, c.Metrics, cfg.Jobs, cfg.Admission.GraceWindow)
}

// Close releases every connection. It is safe on a partially built value.
func (c *Components) Close() error {
	var firstErr error
	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			slog.Error("Error closing publisher", "error", err)
			firstErr = err
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			slog.Error("Error closing redis connection", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			slog.Error("Error closing database connection", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
