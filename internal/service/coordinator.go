package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/messaging"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
)

type ReserveRequest struct {
	EventID    string
	SeatIDs    []string
	UserID     string
	TTL        time.Duration
	QueueToken string
}

// Coordinator places and releases holds. It never locks: every seat write is a
// version-conditioned update, and a partial hold is rolled back before retrying.
type Coordinator struct {
	seats        repository.SeatStore
	reservations repository.ReservationStore
	admission    AdmissionGate
	publisher    messaging.Publisher
	metrics      *metrics.Metrics
	cfg          Config

	now   func() time.Time
	newID func() string
}

func NewCoordinator(seats repository.SeatStore, reservations repository.ReservationStore, admission AdmissionGate, publisher messaging.Publisher, m *metrics.Metrics, cfg Config) *Coordinator {
	return &Coordinator{
		seats:        seats,
		reservations: reservations,
		admission:    admission,
		publisher:    publisher,
		metrics:      m,
		cfg:          cfg,
		now:          time.Now,
		newID:        newID,
	}
}

func (c *Coordinator) Reserve(ctx context.Context, req ReserveRequest) (*models.Reservation, error) {
	seatIDs, ttl, err := c.validate(req)
	if err != nil {
		return nil, err
	}

	if c.admission != nil {
		if err := c.admission.Validate(ctx, req.QueueToken, req.EventID, req.UserID); err != nil {
			c.metrics.ReserveOutcomes.WithLabelValues("not_admitted").Inc()
			return nil, err
		}
	}

	reservationID := c.newID()
	var held map[string]int64
	var until time.Time

	result := c.cfg.Retry.Run(ctx, func(ctx context.Context, attempt int) Result {
		until = c.now().Add(ttl)
		versions, res := c.tryHold(ctx, reservationID, req.EventID, seatIDs, until)
		held = versions
		return res
	})
	c.metrics.RetryAttempts.WithLabelValues("reserve").Observe(float64(result.Attempts))

	if result.Outcome != OutcomeOK {
		err := c.reserveError(ctx, result)
		c.metrics.ReserveOutcomes.WithLabelValues(reserveOutcomeLabel(err)).Inc()
		logger.WithContext(ctx).Debug("Reserve failed",
			"event_id", req.EventID,
			"attempts", result.Attempts,
			"outcome", result.Outcome.String(),
			"error", err)
		return nil, err
	}

	reservation := &models.Reservation{
		ID:           reservationID,
		EventID:      req.EventID,
		UserID:       req.UserID,
		SeatIDs:      seatIDs,
		Status:       models.ReservationPending,
		QueueToken:   req.QueueToken,
		CreatedAt:    c.now(),
		ExpiresAt:    until,
		SeatVersions: held,
	}

	if err := c.reservations.Create(ctx, reservation); err != nil {
		c.release(ctx, reservationID, held)
		if errors.Is(err, apperrors.ErrQueueTokenInUse) {
			c.metrics.ReserveOutcomes.WithLabelValues("token_in_use").Inc()
			return nil, err
		}
		c.metrics.ReserveOutcomes.WithLabelValues("service_unavailable").Inc()
		logger.WithContext(ctx).Error("Failed to persist reservation, hold released",
			"reservation_id", reservationID,
			"error", err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrServiceUnavailable, err)
	}

	c.metrics.ReserveOutcomes.WithLabelValues("ok").Inc()
	publish(ctx, c.publisher, models.EventReservationCreated, models.ReservationCreatedEvent{
		ReservationID: reservation.ID,
		EventID:       reservation.EventID,
		UserID:        reservation.UserID,
		SeatIDs:       reservation.SeatIDs,
		ExpiresAt:     reservation.ExpiresAt,
		Timestamp:     reservation.CreatedAt,
	})

	return reservation, nil
}

func (c *Coordinator) validate(req ReserveRequest) ([]string, time.Duration, error) {
	if req.EventID == "" || req.UserID == "" {
		return nil, 0, fmt.Errorf("%w: event_id and user_id are required", apperrors.ErrInvalidRequest)
	}
	if len(req.SeatIDs) == 0 {
		return nil, 0, fmt.Errorf("%w: at least one seat is required", apperrors.ErrInvalidRequest)
	}

	seen := make(map[string]struct{}, len(req.SeatIDs))
	seatIDs := make([]string, 0, len(req.SeatIDs))
	for _, id := range req.SeatIDs {
		if id == "" {
			return nil, 0, fmt.Errorf("%w: empty seat id", apperrors.ErrInvalidRequest)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		seatIDs = append(seatIDs, id)
	}
	// Fixed write order keeps two overlapping requests from repeatedly undoing each other
	sort.Strings(seatIDs)

	ttl := req.TTL
	if ttl == 0 {
		ttl = c.cfg.DefaultHoldTTL
	}
	if ttl < c.cfg.MinHoldTTL || ttl > c.cfg.MaxHoldTTL {
		return nil, 0, fmt.Errorf("%w: ttl must be between %s and %s", apperrors.ErrInvalidRequest, c.cfg.MinHoldTTL, c.cfg.MaxHoldTTL)
	}

	return seatIDs, ttl, nil
}

// tryHold is one attempt: read, check, then move every seat to RESERVED. Any failure
// undoes the seats this attempt already moved before reporting.
func (c *Coordinator) tryHold(ctx context.Context, reservationID, eventID string, seatIDs []string, until time.Time) (map[string]int64, Result) {
	seats, err := c.seats.GetSeats(ctx, seatIDs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Rejected(ctx.Err())
		}
		return nil, Unavailable(err)
	}

	if len(seats) != len(seatIDs) {
		return nil, Rejected(apperrors.ErrSeatsUnavailable)
	}
	observed := make(map[string]int64, len(seats))
	for _, seat := range seats {
		if seat.EventID != eventID || seat.Status != models.SeatAvailable {
			return nil, Rejected(apperrors.ErrSeatsUnavailable)
		}
		observed[seat.ID] = seat.Version
	}

	holder := reservationID
	held := make(map[string]int64, len(seatIDs))
	for _, id := range seatIDs {
		if err := ctx.Err(); err != nil {
			c.release(ctx, reservationID, held)
			return nil, Rejected(err)
		}

		version, err := c.seats.ConditionalUpdate(ctx, models.SeatUpdate{
			SeatID:          id,
			ExpectedVersion: observed[id],
			Status:          models.SeatReserved,
			Holder:          &holder,
			ReservedUntil:   &until,
		})
		if err != nil {
			c.release(ctx, reservationID, held)
			switch {
			case errors.Is(err, apperrors.ErrVersionConflict):
				c.metrics.VersionConflicts.WithLabelValues("reserve").Inc()
				return nil, Conflict(err)
			case errors.Is(err, apperrors.ErrNotFound):
				return nil, Rejected(apperrors.ErrSeatsUnavailable)
			case ctx.Err() != nil:
				return nil, Rejected(ctx.Err())
			default:
				return nil, Unavailable(err)
			}
		}
		held[id] = version
	}

	return held, Ok()
}

func (c *Coordinator) reserveError(ctx context.Context, result Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch result.Outcome {
	case OutcomeRejected:
		return result.Err
	case OutcomeRetriesExhausted:
		if result.Cause == OutcomeStoreUnavailable {
			return fmt.Errorf("%w: %v", apperrors.ErrServiceUnavailable, result.Err)
		}
	}
	return apperrors.ErrSeatsUnavailable
}

func reserveOutcomeLabel(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrSeatsUnavailable):
		return "seats_unavailable"
	case errors.Is(err, apperrors.ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "error"
}

// release moves seats this caller holds back to AVAILABLE, each conditioned on the
// version the caller left it at. It runs detached so a cancelled caller still cleans up.
func (c *Coordinator) release(ctx context.Context, reservationID string, held map[string]int64) {
	if len(held) == 0 {
		return
	}

	cctx, cancel := detached(ctx, c.cfg.CompensationTimeout)
	defer cancel()

	for id, version := range held {
		_, err := c.seats.ConditionalUpdate(cctx, models.SeatUpdate{
			SeatID:          id,
			ExpectedVersion: version,
			Status:          models.SeatAvailable,
		})
		if err != nil {
			logger.WithContext(ctx).Warn("Compensation skipped seat",
				"reservation_id", reservationID,
				"seat_id", id,
				"error", err)
			continue
		}
		c.metrics.Compensations.WithLabelValues("reserve").Inc()
	}
}

func (c *Coordinator) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	res, err := c.reservations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrServiceUnavailable, err)
	}
	return res, nil
}

// Cancel releases a pending hold. Cancelling an already expired or cancelled
// reservation is a no-op; a confirmed one cannot be cancelled.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	res, err := c.GetReservation(ctx, id)
	if err != nil {
		return err
	}

	switch res.Status {
	case models.ReservationCancelled, models.ReservationExpired:
		return nil
	case models.ReservationConfirmed:
		return apperrors.ErrReservationNotCancellable
	}

	cctx, cancel := detached(ctx, c.cfg.CompensationTimeout)
	defer cancel()

	for _, seatID := range res.SeatIDs {
		_, err := c.seats.ConditionalUpdate(cctx, models.SeatUpdate{
			SeatID:          seatID,
			ExpectedVersion: res.SeatVersions[seatID],
			Status:          models.SeatAvailable,
		})
		if err == nil {
			continue
		}
		if !errors.Is(err, apperrors.ErrVersionConflict) && !errors.Is(err, apperrors.ErrNotFound) {
			return fmt.Errorf("%w: %v", apperrors.ErrServiceUnavailable, err)
		}

		// Someone else moved the seat: the sweeper reclaimed it, or a confirm sold it
		seats, err := c.seats.GetSeats(cctx, []string{seatID})
		if err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrServiceUnavailable, err)
		}
		if len(seats) == 1 && seats[0].Status == models.SeatSold && seats[0].HeldBy(res.ID) {
			return apperrors.ErrReservationNotCancellable
		}
	}

	ok, err := c.reservations.UpdateStatus(cctx, res.ID,
		[]models.ReservationStatus{models.ReservationPending}, models.ReservationCancelled)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrServiceUnavailable, err)
	}
	if !ok {
		current, err := c.GetReservation(cctx, res.ID)
		if err == nil && current.Status == models.ReservationConfirmed {
			return apperrors.ErrReservationNotCancellable
		}
		return nil
	}

	completeAdmission(cctx, c.admission, res.QueueToken)
	publish(cctx, c.publisher, models.EventReservationCancelled, models.ReservationReleasedEvent{
		ReservationID: res.ID,
		EventID:       res.EventID,
		UserID:        res.UserID,
		Reason:        "cancelled",
		Timestamp:     c.now(),
	})

	logger.WithContext(ctx).Info("Reservation cancelled", "reservation_id", res.ID)
	return nil
}
