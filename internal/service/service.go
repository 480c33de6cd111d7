package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"boxoffice/internal/external"
	"boxoffice/internal/logger"
	"boxoffice/internal/messaging"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
)

// AdmissionGate is the part of the admission controller the reservation flow depends on
type AdmissionGate interface {
	Validate(ctx context.Context, token, eventID, userID string) error
	Complete(ctx context.Context, token string) error
}

type PaymentGateway interface {
	Charge(ctx context.Context, req external.ChargeRequest) (external.ChargeResult, error)
}

type Catalog interface {
	Lookup(ctx context.Context, seatIDs []string) (map[string]models.SeatInfo, error)
}

type Config struct {
	Retry               RetryPolicy
	DefaultHoldTTL      time.Duration
	MinHoldTTL          time.Duration
	MaxHoldTTL          time.Duration
	CompensationTimeout time.Duration
	Currency            string
}

func DefaultConfig() Config {
	return Config{
		Retry:               DefaultRetryPolicy(),
		DefaultHoldTTL:      10 * time.Minute,
		MinHoldTTL:          time.Second,
		MaxHoldTTL:          30 * time.Minute,
		CompensationTimeout: 5 * time.Second,
		Currency:            "KZT",
	}
}

type Services struct {
	Coordinator *Coordinator
	Finalizer   *Finalizer
}

// Dependencies bundles what the services need. Admission may be nil when the waiting room is off.
type Dependencies struct {
	Repos     *repository.Repositories
	Admission AdmissionGate
	Gateway   PaymentGateway
	Catalog   Catalog
	Publisher messaging.Publisher
	Metrics   *metrics.Metrics
}

func NewServices(deps Dependencies, cfg Config) *Services {
	return &Services{
		Coordinator: NewCoordinator(deps.Repos.Seats, deps.Repos.Reservations, deps.Admission, deps.Publisher, deps.Metrics, cfg),
		Finalizer:   NewFinalizer(deps, cfg),
	}
}

func newID() string {
	return uuid.New().String()
}

// detached returns a context that outlives ctx's cancellation but is still bounded
func detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func publish(ctx context.Context, p messaging.Publisher, subject string, payload any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, subject, payload); err != nil {
		logger.WithContext(ctx).Error("Failed to publish event", "subject", subject, "error", err)
	}
}

func completeAdmission(ctx context.Context, gate AdmissionGate, token string) {
	if gate == nil || token == "" {
		return
	}
	if err := gate.Complete(ctx, token); err != nil {
		logger.WithContext(ctx).Warn("Failed to release admission slot", "token", token, "error", err)
	}
}
