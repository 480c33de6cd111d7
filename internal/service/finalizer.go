package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/external"
	"boxoffice/internal/logger"
	"boxoffice/internal/messaging"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
)

const (
	failureDeclined = "payment_declined"
	failureExpired  = "reservation_expired"
)

// Finalizer turns a live hold into a sale. The order is fixed: the hold exists, the
// charge is approved, and only then are the seats moved to SOLD.
type Finalizer struct {
	seats        repository.SeatStore
	reservations repository.ReservationStore
	bookings     repository.BookingStore
	gateway      PaymentGateway
	catalog      Catalog
	admission    AdmissionGate
	publisher    messaging.Publisher
	metrics      *metrics.Metrics
	cfg          Config

	group singleflight.Group
	now   func() time.Time
	newID func() string
}

func NewFinalizer(deps Dependencies, cfg Config) *Finalizer {
	return &Finalizer{
		seats:        deps.Repos.Seats,
		reservations: deps.Repos.Reservations,
		bookings:     deps.Repos.Bookings,
		gateway:      deps.Gateway,
		catalog:      deps.Catalog,
		admission:    deps.Admission,
		publisher:    deps.Publisher,
		metrics:      deps.Metrics,
		cfg:          cfg,
		now:          time.Now,
		newID:        newID,
	}
}

// Confirm charges for a reservation and sells its seats. Calling it again for the same
// reservation returns the settled booking, or the same failure, without charging twice.
func (f *Finalizer) Confirm(ctx context.Context, reservationID, paymentToken string) (*models.Booking, error) {
	if reservationID == "" || paymentToken == "" {
		return nil, fmt.Errorf("%w: reservation id and payment token are required", apperrors.ErrInvalidRequest)
	}

	v, err, _ := f.group.Do(reservationID, func() (interface{}, error) {
		return f.confirm(ctx, reservationID, paymentToken)
	})
	f.metrics.ConfirmOutcomes.WithLabelValues(confirmOutcomeLabel(err)).Inc()
	if err != nil {
		return nil, err
	}

	booking := *v.(*models.Booking)
	return &booking, nil
}

func (f *Finalizer) confirm(ctx context.Context, reservationID, paymentToken string) (*models.Booking, error) {
	log := logger.WithContext(ctx).With("reservation_id", reservationID)

	res, err := f.reservations.GetByID(ctx, reservationID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrServiceUnavailable, err)
	}

	booking, err := f.bookings.GetByReservationID(ctx, reservationID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrServiceUnavailable, err)
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		booking = nil
	}

	if booking != nil {
		switch booking.Status {
		case models.BookingConfirmed:
			return booking, nil
		case models.BookingFailed:
			return nil, failureError(booking)
		}
	}

	switch res.Status {
	case models.ReservationConfirmed:
		// Seats were sold but the booking row was not settled
		if booking == nil {
			return nil, fmt.Errorf("%w: confirmed reservation without booking", apperrors.ErrServiceUnavailable)
		}
		return f.settle(ctx, res, booking)
	case models.ReservationExpired, models.ReservationCancelled:
		f.expire(ctx, res, booking)
		if booking != nil && booking.PaymentID != nil {
			f.refundUnlessSold(ctx, res, booking, *booking.PaymentID)
		}
		return nil, apperrors.ErrReservationExpired
	}

	// An earlier call was approved but did not finish; the charge stands, so pick up
	// at the sale regardless of the hold's deadline.
	if booking != nil && booking.PaymentID != nil {
		log.Info("Resuming approved confirm", "payment_id", *booking.PaymentID)
		sctx, cancel := detached(ctx, f.cfg.CompensationTimeout)
		defer cancel()
		return f.complete(sctx, res, booking, *booking.PaymentID)
	}

	if res.Expired(f.now()) {
		log.Info("Hold lapsed before confirm")
		f.expire(ctx, res, booking)
		return nil, apperrors.ErrReservationExpired
	}

	if booking == nil {
		booking, err = f.openBooking(ctx, res)
		if err != nil {
			return nil, err
		}
		switch booking.Status {
		case models.BookingConfirmed:
			return booking, nil
		case models.BookingFailed:
			return nil, failureError(booking)
		}
	}

	charge, err := f.gateway.Charge(ctx, external.ChargeRequest{
		ReservationID: res.ID,
		PaymentToken:  paymentToken,
		Amount:        booking.TotalPrice,
		Currency:      f.cfg.Currency,
	})
	if err != nil {
		log.Warn("Payment gateway unavailable, hold kept", "error", err)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrPaymentUnavailable, err)
	}

	if charge.Status != external.ChargeApproved {
		return f.decline(ctx, res, booking, charge.Reason)
	}

	// Money has moved; nothing after this point may be abandoned because the caller went away
	sctx, cancel := detached(ctx, f.cfg.CompensationTimeout)
	defer cancel()

	booking.PaymentID = &charge.PaymentID
	if ok, err := f.bookings.Update(sctx, booking); err != nil {
		log.Warn("Failed to record payment id", "error", err)
	} else if !ok {
		return f.resolve(sctx, res, booking, charge.PaymentID)
	}

	return f.complete(sctx, res, booking, charge.PaymentID)
}

// complete sells the held seats once paymentID has been approved for them.
func (f *Finalizer) complete(ctx context.Context, res *models.Reservation, booking *models.Booking, paymentID string) (*models.Booking, error) {
	log := logger.WithContext(ctx).With("reservation_id", res.ID)

	flipped, result := f.markSold(ctx, res)
	f.metrics.RetryAttempts.WithLabelValues("confirm").Observe(float64(result.Attempts))

	switch result.Outcome {
	case OutcomeOK:
		ok, err := f.reservations.UpdateStatus(ctx, res.ID,
			[]models.ReservationStatus{models.ReservationPending}, models.ReservationConfirmed)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrServiceUnavailable, err)
		}
		if !ok {
			current, err := f.reservations.GetByID(ctx, res.ID)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", apperrors.ErrServiceUnavailable, err)
			}
			if current.Status != models.ReservationConfirmed {
				log.Warn("Reservation closed while its seats were being sold", "status", current.Status)
				return f.abandonSale(ctx, res, booking, flipped, paymentID)
			}
		}
		return f.settle(ctx, res, booking)

	case OutcomeRejected:
		log.Warn("Seats drifted after approval, rolling back and requesting refund", "payment_id", paymentID)
		return f.abandonSale(ctx, res, booking, flipped, paymentID)

	default:
		// The hold and the pending booking stay; a retried confirm resumes from here
		log.Error("Could not mark seats sold", "outcome", result.Outcome.String(), "error", result.Err)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrServiceUnavailable, result.Err)
	}
}

// abandonSale undoes the seats this call sold, closes the reservation and flags the
// approved charge for refund.
func (f *Finalizer) abandonSale(ctx context.Context, res *models.Reservation, booking *models.Booking, flipped map[string]int64, paymentID string) (*models.Booking, error) {
	f.unsell(ctx, res, flipped)
	f.expire(ctx, res, booking)
	f.refundUnlessSold(ctx, res, booking, paymentID)
	return nil, apperrors.ErrReservationExpired
}

func (f *Finalizer) openBooking(ctx context.Context, res *models.Reservation) (*models.Booking, error) {
	info, err := f.catalog.Lookup(ctx, res.SeatIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: catalog: %v", apperrors.ErrServiceUnavailable, err)
	}

	var total int64
	for _, seatID := range res.SeatIDs {
		seat, ok := info[seatID]
		if !ok {
			return nil, fmt.Errorf("%w: no catalog entry for seat %s", apperrors.ErrServiceUnavailable, seatID)
		}
		total += seat.Price
	}

	booking, _, err := f.bookings.CreateIfAbsent(ctx, &models.Booking{
		ID:            f.newID(),
		ReservationID: res.ID,
		UserID:        res.UserID,
		TotalPrice:    total,
		Status:        models.BookingPendingPayment,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrServiceUnavailable, err)
	}
	return booking, nil
}

// markSold moves every held seat RESERVED -> SOLD at the version the hold left it at.
// Drift on any seat rejects the whole sale; store errors are retried. The returned map
// holds the seats this call sold and the version each was left at.
func (f *Finalizer) markSold(ctx context.Context, res *models.Reservation) (map[string]int64, Result) {
	holder := res.ID
	flipped := make(map[string]int64, len(res.SeatIDs))
	done := make(map[string]bool, len(res.SeatIDs))

	result := f.cfg.Retry.Run(ctx, func(ctx context.Context, attempt int) Result {
		for _, seatID := range res.SeatIDs {
			if done[seatID] {
				continue
			}

			version, err := f.seats.ConditionalUpdate(ctx, models.SeatUpdate{
				SeatID:          seatID,
				ExpectedVersion: res.SeatVersions[seatID],
				Status:          models.SeatSold,
				Holder:          &holder,
			})
			if err == nil {
				done[seatID] = true
				flipped[seatID] = version
				continue
			}
			if !errors.Is(err, apperrors.ErrVersionConflict) && !errors.Is(err, apperrors.ErrNotFound) {
				return Unavailable(err)
			}

			f.metrics.VersionConflicts.WithLabelValues("confirm").Inc()
			seats, rerr := f.seats.GetSeats(ctx, []string{seatID})
			if rerr != nil {
				return Unavailable(rerr)
			}
			// A duplicate confirm elsewhere already sold it for this reservation
			if len(seats) == 1 && seats[0].Status == models.SeatSold && seats[0].HeldBy(res.ID) {
				done[seatID] = true
				continue
			}
			return Rejected(apperrors.ErrReservationExpired)
		}
		return Ok()
	})
	return flipped, result
}

func (f *Finalizer) settle(ctx context.Context, res *models.Reservation, booking *models.Booking) (*models.Booking, error) {
	settled := *booking
	settled.Status = models.BookingConfirmed
	settled.FailureReason = nil
	ok, err := f.bookings.Update(ctx, &settled)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrServiceUnavailable, err)
	}
	if !ok {
		var paymentID string
		if booking.PaymentID != nil {
			paymentID = *booking.PaymentID
		}
		return f.resolve(ctx, res, booking, paymentID)
	}

	completeAdmission(ctx, f.admission, res.QueueToken)
	publish(ctx, f.publisher, models.EventBookingConfirmed, models.BookingEvent{
		BookingID:     settled.ID,
		ReservationID: res.ID,
		UserID:        res.UserID,
		Status:        settled.Status,
		TotalPrice:    settled.TotalPrice,
		Timestamp:     f.now(),
	})

	logger.WithContext(ctx).Info("Booking confirmed", "reservation_id", res.ID, "booking_id", settled.ID)
	return &settled, nil
}

// resolve reports whatever another call settled the booking to. paymentID, when set, is
// the charge this call holds; it is flagged for refund unless it is the one that paid.
func (f *Finalizer) resolve(ctx context.Context, res *models.Reservation, booking *models.Booking, paymentID string) (*models.Booking, error) {
	if paymentID != "" {
		f.refundUnlessSold(ctx, res, booking, paymentID)
	}

	current, err := f.bookings.GetByReservationID(ctx, res.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrServiceUnavailable, err)
	}
	switch current.Status {
	case models.BookingConfirmed:
		return current, nil
	case models.BookingFailed:
		return nil, failureError(current)
	}
	return nil, fmt.Errorf("%w: confirmation in progress", apperrors.ErrServiceUnavailable)
}

func (f *Finalizer) decline(ctx context.Context, res *models.Reservation, booking *models.Booking, reason string) (*models.Booking, error) {
	cctx, cancel := detached(ctx, f.cfg.CompensationTimeout)
	defer cancel()

	log := logger.WithContext(ctx).With("reservation_id", res.ID)
	log.Info("Payment declined", "reason", reason)

	// A concurrent confirm is selling these seats; its outcome stands
	if f.releaseHeld(cctx, res) || !f.closeReservation(cctx, res, models.ReservationCancelled) {
		log.Warn("Declined charge lost to a concurrent confirm")
		return f.resolve(cctx, res, booking, "")
	}

	if !f.fail(cctx, res, booking, failureDeclined+": "+reason) {
		return f.resolve(cctx, res, booking, "")
	}
	return nil, apperrors.ErrPaymentDeclined
}

// expire gives up on a reservation: the seats it still holds go back to AVAILABLE and a
// pending booking is failed. Seats already sold under an open reservation are left to the
// call that sold them.
func (f *Finalizer) expire(ctx context.Context, res *models.Reservation, booking *models.Booking) {
	cctx, cancel := detached(ctx, f.cfg.CompensationTimeout)
	defer cancel()

	if f.releaseHeld(cctx, res) {
		return
	}
	if !f.closeReservation(cctx, res, models.ReservationExpired) {
		return
	}

	if booking == nil {
		completeAdmission(cctx, f.admission, res.QueueToken)
		return
	}
	f.fail(cctx, res, booking, failureExpired)
}

// closeReservation moves a PENDING reservation to `to`. It reports false only when the
// reservation has been confirmed instead.
func (f *Finalizer) closeReservation(ctx context.Context, res *models.Reservation, to models.ReservationStatus) bool {
	log := logger.WithContext(ctx).With("reservation_id", res.ID)

	ok, err := f.reservations.UpdateStatus(ctx, res.ID,
		[]models.ReservationStatus{models.ReservationPending}, to)
	if err != nil {
		log.Error("Failed to close reservation", "to", to, "error", err)
		return true
	}
	if ok {
		return true
	}

	current, err := f.reservations.GetByID(ctx, res.ID)
	if err != nil {
		log.Error("Failed to re-read reservation", "error", err)
		return true
	}
	return current.Status != models.ReservationConfirmed
}

// releaseHeld returns the seats held by res to AVAILABLE, conditioned on the version just
// observed. While res is still PENDING a SOLD seat belongs to a confirm in progress; then
// nothing is written and it reports true.
func (f *Finalizer) releaseHeld(ctx context.Context, res *models.Reservation) bool {
	seats, err := f.seats.GetSeats(ctx, res.SeatIDs)
	if err != nil {
		logger.WithContext(ctx).Error("Failed to read seats for release", "reservation_id", res.ID, "error", err)
		return false
	}

	if res.Status == models.ReservationPending {
		for _, seat := range seats {
			if seat.Status == models.SeatSold && seat.HeldBy(res.ID) {
				return true
			}
		}
	}

	for _, seat := range seats {
		if !seat.HeldBy(res.ID) || seat.Status == models.SeatAvailable {
			continue
		}
		f.release(ctx, res, seat.ID, seat.Version)
	}
	return false
}

// unsell reverts the SOLD seats this call wrote, each at the version it left the seat at.
func (f *Finalizer) unsell(ctx context.Context, res *models.Reservation, flipped map[string]int64) {
	for seatID, version := range flipped {
		f.release(ctx, res, seatID, version)
	}
}

func (f *Finalizer) release(ctx context.Context, res *models.Reservation, seatID string, version int64) {
	_, err := f.seats.ConditionalUpdate(ctx, models.SeatUpdate{
		SeatID:          seatID,
		ExpectedVersion: version,
		Status:          models.SeatAvailable,
	})
	if err != nil {
		logger.WithContext(ctx).Warn("Compensation skipped seat",
			"reservation_id", res.ID,
			"seat_id", seatID,
			"error", err)
		return
	}
	f.metrics.Compensations.WithLabelValues("confirm").Inc()
}

// refundUnlessSold publishes refund_required for paymentID unless the stored booking was
// confirmed with that payment.
func (f *Finalizer) refundUnlessSold(ctx context.Context, res *models.Reservation, booking *models.Booking, paymentID string) {
	current, err := f.bookings.GetByReservationID(ctx, res.ID)
	if err == nil && current.Status == models.BookingConfirmed &&
		current.PaymentID != nil && *current.PaymentID == paymentID {
		return
	}

	publish(ctx, f.publisher, models.EventRefundRequired, models.RefundRequiredEvent{
		BookingID:     booking.ID,
		ReservationID: res.ID,
		PaymentID:     paymentID,
		Amount:        booking.TotalPrice,
		Timestamp:     f.now(),
	})
}

// fail marks a pending booking FAILED. It reports false when another call settled it first.
func (f *Finalizer) fail(ctx context.Context, res *models.Reservation, booking *models.Booking, reason string) bool {
	failed := *booking
	failed.Status = models.BookingFailed
	failed.FailureReason = &reason
	ok, err := f.bookings.Update(ctx, &failed)
	if err != nil {
		logger.WithContext(ctx).Error("Failed to mark booking failed", "booking_id", booking.ID, "error", err)
		return true
	}
	if !ok {
		return false
	}

	completeAdmission(ctx, f.admission, res.QueueToken)
	publish(ctx, f.publisher, models.EventBookingFailed, models.BookingEvent{
		BookingID:     failed.ID,
		ReservationID: res.ID,
		UserID:        res.UserID,
		Status:        failed.Status,
		TotalPrice:    failed.TotalPrice,
		Reason:        reason,
		Timestamp:     f.now(),
	})
	return true
}

func failureError(b *models.Booking) error {
	if b.FailureReason != nil && strings.HasPrefix(*b.FailureReason, failureDeclined) {
		return apperrors.ErrPaymentDeclined
	}
	return apperrors.ErrReservationExpired
}

func confirmOutcomeLabel(err error) string {
	switch {
	case err == nil:
		return "confirmed"
	case errors.Is(err, apperrors.ErrPaymentDeclined):
		return "declined"
	case errors.Is(err, apperrors.ErrReservationExpired):
		return "expired"
	case errors.Is(err, apperrors.ErrPaymentUnavailable):
		return "payment_unavailable"
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	}
	return "error"
}
