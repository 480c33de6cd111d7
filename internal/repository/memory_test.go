package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
)

func seedSeats(t *testing.T, store *MemorySeatStore, ids ...string) {
	t.Helper()
	seats := make([]models.Seat, 0, len(ids))
	for _, id := range ids {
		seats = append(seats, models.Seat{ID: id, EventID: "E1", Section: "A", Row: "1", PriceTier: "standard"})
	}
	require.NoError(t, store.CreateSeats(context.Background(), seats))
}

func ptr[T any](v T) *T { return &v }

func TestMemorySeatStore_ConditionalUpdateIncrementsVersion(t *testing.T) {
	store := NewMemorySeatStore()
	seedSeats(t, store, "S1")
	ctx := context.Background()

	until := time.Now().Add(time.Minute)
	version, err := store.ConditionalUpdate(ctx, models.SeatUpdate{
		SeatID:          "S1",
		ExpectedVersion: 0,
		Status:          models.SeatReserved,
		Holder:          ptr("R1"),
		ReservedUntil:   &until,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	seats, err := store.GetSeats(ctx, []string{"S1"})
	require.NoError(t, err)
	require.Len(t, seats, 1)
	assert.Equal(t, models.SeatReserved, seats[0].Status)
	assert.True(t, seats[0].HeldBy("R1"))
	assert.Equal(t, int64(1), seats[0].Version)
}

func TestMemorySeatStore_StaleWriteRejected(t *testing.T) {
	store := NewMemorySeatStore()
	seedSeats(t, store, "S1")
	ctx := context.Background()

	_, err := store.ConditionalUpdate(ctx, models.SeatUpdate{SeatID: "S1", ExpectedVersion: 0, Status: models.SeatReserved, Holder: ptr("R1")})
	require.NoError(t, err)

	_, err = store.ConditionalUpdate(ctx, models.SeatUpdate{SeatID: "S1", ExpectedVersion: 0, Status: models.SeatReserved, Holder: ptr("R2")})
	assert.ErrorIs(t, err, apperrors.ErrVersionConflict)

	seats, _ := store.GetSeats(ctx, []string{"S1"})
	assert.True(t, seats[0].HeldBy("R1"))
	assert.Equal(t, int64(1), seats[0].Version)
}

func TestMemorySeatStore_DisallowedTransition(t *testing.T) {
	store := NewMemorySeatStore()
	seedSeats(t, store, "S1")
	ctx := context.Background()

	// AVAILABLE -> SOLD skips the hold
	_, err := store.ConditionalUpdate(ctx, models.SeatUpdate{SeatID: "S1", ExpectedVersion: 0, Status: models.SeatSold})
	assert.ErrorIs(t, err, apperrors.ErrVersionConflict)

	_, err = store.ConditionalUpdate(ctx, models.SeatUpdate{SeatID: "S1", ExpectedVersion: 0, Status: "GONE"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestMemorySeatStore_MissingSeat(t *testing.T) {
	store := NewMemorySeatStore()
	ctx := context.Background()

	_, err := store.ConditionalUpdate(ctx, models.SeatUpdate{SeatID: "nope", Status: models.SeatReserved})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	seats, err := store.GetSeats(ctx, []string{"nope"})
	require.NoError(t, err)
	assert.Empty(t, seats)
}

func TestMemorySeatStore_ConcurrentWritersOneWins(t *testing.T) {
	store := NewMemorySeatStore()
	seedSeats(t, store, "S1")
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			holder := "R" + string(rune('A'+i%26))
			if _, err := store.ConditionalUpdate(ctx, models.SeatUpdate{SeatID: "S1", ExpectedVersion: 0, Status: models.SeatReserved, Holder: &holder}); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestMemorySeatStore_ListExpiredHolds(t *testing.T) {
	store := NewMemorySeatStore()
	seedSeats(t, store, "S1", "S2", "S3")
	ctx := context.Background()
	now := time.Now()

	past := now.Add(-time.Second)
	future := now.Add(time.Minute)
	_, err := store.ConditionalUpdate(ctx, models.SeatUpdate{SeatID: "S1", Status: models.SeatReserved, Holder: ptr("R1"), ReservedUntil: &past})
	require.NoError(t, err)
	_, err = store.ConditionalUpdate(ctx, models.SeatUpdate{SeatID: "S2", Status: models.SeatReserved, Holder: ptr("R2"), ReservedUntil: &future})
	require.NoError(t, err)
	// exactly at now is not yet expired
	_, err = store.ConditionalUpdate(ctx, models.SeatUpdate{SeatID: "S3", Status: models.SeatReserved, Holder: ptr("R3"), ReservedUntil: &now})
	require.NoError(t, err)

	seats, err := store.ListExpiredHolds(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, seats, 1)
	assert.Equal(t, "S1", seats[0].ID)
}

func TestMemoryReservationStore_UpdateStatusGuarded(t *testing.T) {
	store := NewMemoryReservationStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &models.Reservation{
		ID:           "R1",
		Status:       models.ReservationPending,
		SeatIDs:      []string{"S1"},
		SeatVersions: map[string]int64{"S1": 1},
	}))

	ok, err := store.UpdateStatus(ctx, "R1", []models.ReservationStatus{models.ReservationPending}, models.ReservationExpired)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.UpdateStatus(ctx, "R1", []models.ReservationStatus{models.ReservationPending}, models.ReservationConfirmed)
	require.NoError(t, err)
	assert.False(t, ok)

	r, err := store.GetByID(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationExpired, r.Status)
	assert.Equal(t, int64(1), r.SeatVersions["S1"])

	_, err = store.GetByID(ctx, "R2")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMemoryBookingStore_CreateIfAbsent(t *testing.T) {
	store := NewMemoryBookingStore()
	ctx := context.Background()

	first, created, err := store.CreateIfAbsent(ctx, &models.Booking{ID: "B1", ReservationID: "R1", Status: models.BookingPendingPayment})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "B1", first.ID)

	second, created, err := store.CreateIfAbsent(ctx, &models.Booking{ID: "B2", ReservationID: "R1", Status: models.BookingPendingPayment})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "B1", second.ID)

	second.Status = models.BookingConfirmed
	ok, err := store.Update(ctx, second)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetByReservationID(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, got.Status)
}

func TestMemoryBookingStore_UpdateOnlyWhilePending(t *testing.T) {
	store := NewMemoryBookingStore()
	ctx := context.Background()

	_, _, err := store.CreateIfAbsent(ctx, &models.Booking{ID: "B1", ReservationID: "R1", Status: models.BookingPendingPayment})
	require.NoError(t, err)

	winner := &models.Booking{ID: "B1", ReservationID: "R1", Status: models.BookingConfirmed}
	ok, err := store.Update(ctx, winner)
	require.NoError(t, err)
	assert.True(t, ok)

	reason := "payment_declined: card declined"
	loser := &models.Booking{ID: "B1", ReservationID: "R1", Status: models.BookingFailed, FailureReason: &reason}
	ok, err = store.Update(ctx, loser)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := store.GetByReservationID(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, got.Status)
	assert.Nil(t, got.FailureReason)

	_, err = store.Update(ctx, &models.Booking{ID: "B9", ReservationID: "R9"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
