package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"boxoffice/internal/config"
	"boxoffice/internal/handlers"
	"boxoffice/internal/jobs"
	"boxoffice/internal/middleware"
	"boxoffice/internal/service"

	"github.com/gin-gonic/gin"
)

// Server is the HTTP API process
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     *config.Config
	components *Components
	services   *service.Services

	sweeper  *jobs.ExpirySweeper
	advancer *jobs.AdmissionAdvancer
}

// NewServer builds the router on top of already connected components
func NewServer(cfg *config.Config, components *Components) *Server {
	gin.SetMode(cfg.GinMode)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger(time.Second))

	server := &Server{
		router:     router,
		config:     cfg,
		components: components,
		services:   components.Services(cfg.Reservation),
	}

	if cfg.JobsInProcess() {
		server.sweeper, server.advancer = components.Jobs(cfg)
	}

	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	return server
}

func (s *Server) setupRoutes() {
	h := handlers.NewHandlers(s.services, s.components.Admission)
	h.Register(s.router.Group("/api/v1"))

	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(s.components.Metrics.Handler()))
}

// healthCheck reports the state of every backing store
func (s *Server) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK
	checks := gin.H{}

	if s.components.DB != nil {
		db := s.components.DB.HealthCheck(ctx)
		checks["database"] = db
		if db.Status != "healthy" {
			status = http.StatusServiceUnavailable
		}
	} else {
		checks["database"] = gin.H{"status": "memory"}
	}

	if s.components.Redis != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.components.Redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			checks["redis"] = gin.H{"status": "unhealthy", "error": err.Error()}
			status = http.StatusServiceUnavailable
		} else {
			checks["redis"] = gin.H{"status": "healthy"}
		}
	}

	if s.components.Search != nil {
		// catalog outages fail confirms, not the whole process
		if err := s.components.Search.HealthCheck(ctx); err != nil {
			checks["catalog"] = gin.H{"status": "degraded", "error": err.Error()}
		} else {
			checks["catalog"] = gin.H{"status": "healthy"}
		}
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":  overall,
		"service": "boxoffice-api",
		"checks":  checks,
	})
}

// Run starts background jobs, if any, and serves until Shutdown
func (s *Server) Run(ctx context.Context) error {
	if s.sweeper != nil {
		s.sweeper.Start(ctx)
	}
	if s.advancer != nil {
		s.advancer.Start(ctx)
	}

	slog.Info("Starting server", "addr", s.httpServer.Addr, "store", s.config.StoreDriver, "admission", s.config.AdmissionDriver)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// GetRouter returns the router for tests
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}

// Shutdown drains HTTP traffic, stops the jobs and closes connections
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if s.advancer != nil {
		s.advancer.Stop()
	}
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
	return s.components.Close()
}
