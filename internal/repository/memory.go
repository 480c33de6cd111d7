package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
)

// seatCell guards one seat record. Writers lock only the cell they touch.
type seatCell struct {
	mu   sync.Mutex
	seat models.Seat
}

// MemorySeatStore is an in-process arena of seat records keyed by seat id
type MemorySeatStore struct {
	mu    sync.RWMutex
	cells map[string]*seatCell
	now   func() time.Time
}

func NewMemorySeatStore() *MemorySeatStore {
	return &MemorySeatStore{
		cells: make(map[string]*seatCell),
		now:   time.Now,
	}
}

func (s *MemorySeatStore) cell(id string) *seatCell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cells[id]
}

func (s *MemorySeatStore) GetSeats(ctx context.Context, seatIDs []string) ([]models.Seat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seats := make([]models.Seat, 0, len(seatIDs))
	for _, id := range seatIDs {
		c := s.cell(id)
		if c == nil {
			continue
		}
		c.mu.Lock()
		seats = append(seats, copySeat(c.seat))
		c.mu.Unlock()
	}
	return seats, nil
}

func (s *MemorySeatStore) ConditionalUpdate(ctx context.Context, u models.SeatUpdate) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(models.AllowedPredecessors(u.Status)) == 0 {
		return 0, apperrors.ErrInvalidTransition
	}

	c := s.cell(u.SeatID)
	if c == nil {
		return 0, apperrors.ErrNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seat.Version != u.ExpectedVersion || !models.CanTransition(c.seat.Status, u.Status) {
		return 0, apperrors.ErrVersionConflict
	}

	c.seat.Status = u.Status
	c.seat.Version++
	c.seat.HolderReservationID = copyString(u.Holder)
	c.seat.ReservedUntil = copyTime(u.ReservedUntil)
	c.seat.UpdatedAt = s.now()

	return c.seat.Version, nil
}

func (s *MemorySeatStore) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Seat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	cells := make([]*seatCell, 0, len(s.cells))
	for _, c := range s.cells {
		cells = append(cells, c)
	}
	s.mu.RUnlock()

	var seats []models.Seat
	for _, c := range cells {
		c.mu.Lock()
		if c.seat.Status == models.SeatReserved && c.seat.ReservedUntil != nil && c.seat.ReservedUntil.Before(now) {
			seats = append(seats, copySeat(c.seat))
		}
		c.mu.Unlock()
	}

	sort.Slice(seats, func(i, j int) bool {
		return seats[i].ReservedUntil.Before(*seats[j].ReservedUntil)
	})
	if limit > 0 && len(seats) > limit {
		seats = seats[:limit]
	}
	return seats, nil
}

func (s *MemorySeatStore) CreateSeats(ctx context.Context, seats []models.Seat) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, seat := range seats {
		if _, ok := s.cells[seat.ID]; ok {
			continue
		}
		seat.Status = models.SeatAvailable
		seat.Version = 0
		seat.HolderReservationID = nil
		seat.ReservedUntil = nil
		seat.UpdatedAt = s.now()
		s.cells[seat.ID] = &seatCell{seat: seat}
	}
	return nil
}

type MemoryReservationStore struct {
	mu           sync.RWMutex
	reservations map[string]*models.Reservation
}

func NewMemoryReservationStore() *MemoryReservationStore {
	return &MemoryReservationStore{reservations: make(map[string]*models.Reservation)}
}

func (s *MemoryReservationStore) Create(ctx context.Context, r *models.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.QueueToken != "" {
		for _, existing := range s.reservations {
			if existing.QueueToken == r.QueueToken && existing.Status == models.ReservationPending {
				return apperrors.ErrQueueTokenInUse
			}
		}
	}

	stored := copyReservation(r)
	stored.UpdatedAt = r.CreatedAt
	s.reservations[r.ID] = stored
	return nil
}

func (s *MemoryReservationStore) GetByID(ctx context.Context, id string) (*models.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reservations[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return copyReservation(r), nil
}

func (s *MemoryReservationStore) UpdateStatus(ctx context.Context, id string, from []models.ReservationStatus, to models.ReservationStatus) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[id]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if r.Status == status {
			r.Status = to
			r.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

type MemoryBookingStore struct {
	mu       sync.Mutex
	bookings map[string]*models.Booking
}

func NewMemoryBookingStore() *MemoryBookingStore {
	return &MemoryBookingStore{bookings: make(map[string]*models.Booking)}
}

func (s *MemoryBookingStore) CreateIfAbsent(ctx context.Context, b *models.Booking) (*models.Booking, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.bookings[b.ReservationID]; ok {
		stored := *existing
		return &stored, false, nil
	}

	now := time.Now()
	stored := *b
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.bookings[b.ReservationID] = &stored

	out := stored
	return &out, true, nil
}

func (s *MemoryBookingStore) GetByReservationID(ctx context.Context, reservationID string) (*models.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[reservationID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := *b
	return &out, nil
}

func (s *MemoryBookingStore) Update(ctx context.Context, b *models.Booking) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.bookings[b.ReservationID]
	if !ok || existing.ID != b.ID {
		return false, apperrors.ErrNotFound
	}
	if existing.Status != models.BookingPendingPayment {
		return false, nil
	}

	b.UpdatedAt = time.Now()
	stored := *b
	stored.PaymentID = copyString(b.PaymentID)
	stored.FailureReason = copyString(b.FailureReason)
	s.bookings[b.ReservationID] = &stored
	return true, nil
}

func copySeat(s models.Seat) models.Seat {
	s.HolderReservationID = copyString(s.HolderReservationID)
	s.ReservedUntil = copyTime(s.ReservedUntil)
	return s
}

func copyReservation(r *models.Reservation) *models.Reservation {
	out := *r
	out.SeatIDs = append([]string(nil), r.SeatIDs...)
	out.SeatVersions = make(map[string]int64, len(r.SeatVersions))
	for k, v := range r.SeatVersions {
		out.SeatVersions[k] = v
	}
	return &out
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
