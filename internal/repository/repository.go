package repository

import (
	"context"
	"fmt"
	"time"

	"boxoffice/internal/database"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
)

// SeatStore is the inventory store. Seats change only through ConditionalUpdate.
type SeatStore interface {
	GetSeats(ctx context.Context, seatIDs []string) ([]models.Seat, error)
	// ConditionalUpdate applies u only if the seat is still at u.ExpectedVersion and in a
	// state that may move to u.Status. It returns the new version.
	ConditionalUpdate(ctx context.Context, u models.SeatUpdate) (int64, error)
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Seat, error)
	CreateSeats(ctx context.Context, seats []models.Seat) error
}

type ReservationStore interface {
	// Create fails with ErrQueueTokenInUse while another PENDING reservation holds r.QueueToken.
	Create(ctx context.Context, r *models.Reservation) error
	GetByID(ctx context.Context, id string) (*models.Reservation, error)
	// UpdateStatus moves the reservation to `to` if its current status is one of `from`.
	UpdateStatus(ctx context.Context, id string, from []models.ReservationStatus, to models.ReservationStatus) (bool, error)
}

type BookingStore interface {
	// CreateIfAbsent inserts b unless a booking already exists for b.ReservationID.
	// It returns the stored booking and whether it was created by this call.
	CreateIfAbsent(ctx context.Context, b *models.Booking) (*models.Booking, bool, error)
	GetByReservationID(ctx context.Context, reservationID string) (*models.Booking, error)
	// Update writes b only while the stored booking is still PENDING_PAYMENT. It reports
	// false when another call has already settled the booking.
	Update(ctx context.Context, b *models.Booking) (bool, error)
}

type Repositories struct {
	Seats        SeatStore
	Reservations ReservationStore
	Bookings     BookingStore
}

func NewRepositories(db *database.DB) *Repositories {
	return &Repositories{
		Seats:        NewSeatRepository(db),
		Reservations: NewReservationRepository(db),
		Bookings:     NewBookingRepository(db),
	}
}

func NewMemoryRepositories() *Repositories {
	return &Repositories{
		Seats:        NewMemorySeatStore(),
		Reservations: NewMemoryReservationStore(),
		Bookings:     NewMemoryBookingStore(),
	}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, apperrors.ErrStoreUnavailable, err)
}

func statusStrings[S ~string](statuses []S) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
