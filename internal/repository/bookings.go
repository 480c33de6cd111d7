package repository

import (
	"context"
	"database/sql"
	"errors"

	"boxoffice/internal/database"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
)

type BookingRepository struct {
	db *database.DB
}

func NewBookingRepository(db *database.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) CreateIfAbsent(ctx context.Context, booking *models.Booking) (*models.Booking, bool, error) {
	query := `
		INSERT INTO bookings (id, reservation_id, user_id, total_price, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (reservation_id) DO NOTHING
		RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		booking.ID,
		booking.ReservationID,
		booking.UserID,
		booking.TotalPrice,
		booking.Status,
	).Scan(&booking.CreatedAt, &booking.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		existing, err := r.GetByReservationID(ctx, booking.ReservationID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, storeErr("insert booking", err)
	}

	return booking, true, nil
}

func (r *BookingRepository) GetByReservationID(ctx context.Context, reservationID string) (*models.Booking, error) {
	booking := &models.Booking{}
	query := `
		SELECT id, reservation_id, user_id, total_price, status, payment_id,
		       failure_reason, created_at, updated_at
		FROM bookings
		WHERE reservation_id = $1`

	err := r.db.QueryRowContext(ctx, query, reservationID).Scan(
		&booking.ID,
		&booking.ReservationID,
		&booking.UserID,
		&booking.TotalPrice,
		&booking.Status,
		&booking.PaymentID,
		&booking.FailureReason,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get booking", err)
	}

	return booking, nil
}

func (r *BookingRepository) Update(ctx context.Context, booking *models.Booking) (bool, error) {
	query := `
		UPDATE bookings
		SET status = $2, total_price = $3, payment_id = $4, failure_reason = $5, updated_at = NOW()
		WHERE id = $1 AND status = $6
		RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query,
		booking.ID,
		booking.Status,
		booking.TotalPrice,
		booking.PaymentID,
		booking.FailureReason,
		models.BookingPendingPayment,
	).Scan(&booking.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM bookings WHERE id = $1)`, booking.ID).Scan(&exists); err != nil {
			return false, storeErr("update booking", err)
		}
		if !exists {
			return false, apperrors.ErrNotFound
		}
		return false, nil
	}
	if err != nil {
		return false, storeErr("update booking", err)
	}
	return true, nil
}
