package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/messaging"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
)

type Config struct {
	SweepInterval  time.Duration
	SweepBatchSize int
	AdmitInterval  time.Duration
	AdmitBatchSize int
}

func DefaultConfig() Config {
	return Config{
		SweepInterval:  time.Second,
		SweepBatchSize: 500,
		AdmitInterval:  time.Second,
		AdmitBatchSize: 50,
	}
}

// SlotReleaser frees an admission slot held by a reservation's queue token
type SlotReleaser interface {
	Complete(ctx context.Context, token string) error
}

// ExpirySweeper returns lapsed holds to AVAILABLE and expires their reservations.
// It only ever moves RESERVED seats, and only at the version it observed.
type ExpirySweeper struct {
	seats        repository.SeatStore
	reservations repository.ReservationStore
	admission    SlotReleaser
	publisher    messaging.Publisher
	metrics      *metrics.Metrics
	cfg          Config

	loop *loop
	now  func() time.Time
}

func NewExpirySweeper(seats repository.SeatStore, reservations repository.ReservationStore, admission SlotReleaser, publisher messaging.Publisher, m *metrics.Metrics, cfg Config) *ExpirySweeper {
	return &ExpirySweeper{
		seats:        seats,
		reservations: reservations,
		admission:    admission,
		publisher:    publisher,
		metrics:      m,
		cfg:          cfg,
		loop:         newLoop(),
		now:          time.Now,
	}
}

func (j *ExpirySweeper) Start(ctx context.Context) {
	slog.Info("Starting expiry sweeper", "interval", j.cfg.SweepInterval, "batch_size", j.cfg.SweepBatchSize)
	j.loop.start(ctx, j.cfg.SweepInterval, func(ctx context.Context) {
		if _, err := j.RunOnce(ctx); err != nil {
			slog.Error("Expiry sweep failed", "error", err)
		}
	})
}

func (j *ExpirySweeper) Stop() {
	j.loop.stop()
	slog.Info("Expiry sweeper stopped")
}

// RunOnce reclaims every hold that lapsed before now and returns how many seats it freed
func (j *ExpirySweeper) RunOnce(ctx context.Context) (int, error) {
	now := j.now()
	reclaimed := 0

	for {
		seats, err := j.seats.ListExpiredHolds(ctx, now, j.cfg.SweepBatchSize)
		if err != nil {
			return reclaimed, err
		}
		if len(seats) == 0 {
			break
		}

		released := make(map[string]bool)
		progress := 0
		for _, seat := range seats {
			_, err := j.seats.ConditionalUpdate(ctx, models.SeatUpdate{
				SeatID:          seat.ID,
				ExpectedVersion: seat.Version,
				Status:          models.SeatAvailable,
			})
			if err != nil {
				// The finalizer or a cancel got there first
				if errors.Is(err, apperrors.ErrVersionConflict) || errors.Is(err, apperrors.ErrNotFound) {
					continue
				}
				return reclaimed, err
			}

			progress++
			reclaimed++
			j.metrics.SweeperReclaims.Inc()
			if seat.HolderReservationID != nil {
				released[*seat.HolderReservationID] = true
			}
		}

		for reservationID := range released {
			j.expireReservation(ctx, reservationID)
		}

		if len(seats) < j.cfg.SweepBatchSize || progress == 0 {
			break
		}
	}

	if reclaimed > 0 {
		slog.Info("Reclaimed expired holds", "seats", reclaimed)
	}
	return reclaimed, nil
}

func (j *ExpirySweeper) expireReservation(ctx context.Context, reservationID string) {
	ok, err := j.reservations.UpdateStatus(ctx, reservationID,
		[]models.ReservationStatus{models.ReservationPending}, models.ReservationExpired)
	if err != nil {
		slog.Error("Failed to expire reservation", "reservation_id", reservationID, "error", err)
		return
	}
	if !ok {
		return
	}

	res, err := j.reservations.GetByID(ctx, reservationID)
	if err != nil {
		slog.Error("Failed to load expired reservation", "reservation_id", reservationID, "error", err)
		return
	}

	if j.admission != nil && res.QueueToken != "" {
		if err := j.admission.Complete(ctx, res.QueueToken); err != nil {
			slog.Warn("Failed to release admission slot", "reservation_id", reservationID, "error", err)
		}
	}

	if j.publisher != nil {
		event := models.ReservationReleasedEvent{
			ReservationID: res.ID,
			EventID:       res.EventID,
			UserID:        res.UserID,
			Reason:        "expired",
			Timestamp:     j.now(),
		}
		if err := j.publisher.Publish(ctx, models.EventReservationExpired, event); err != nil {
			slog.Error("Failed to publish reservation expired event", "reservation_id", reservationID, "error", err)
		}
	}

	slog.Info("Reservation expired", "reservation_id", reservationID)
}
