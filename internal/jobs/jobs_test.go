package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boxoffice/internal/admission"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/external"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
	"boxoffice/internal/service"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(ctx context.Context, subject string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type approveAll struct{}

func (approveAll) Charge(ctx context.Context, req external.ChargeRequest) (external.ChargeResult, error) {
	return external.ChargeResult{Status: external.ChargeApproved, PaymentID: "pay"}, nil
}

type sweepFixture struct {
	repos     *repository.Repositories
	services  *service.Services
	sweeper   *ExpirySweeper
	publisher *recordingPublisher
}

func newSweepFixture(t *testing.T, seatIDs ...string) *sweepFixture {
	t.Helper()
	repos := repository.NewMemoryRepositories()

	seats := make([]models.Seat, 0, len(seatIDs))
	for _, id := range seatIDs {
		seats = append(seats, models.Seat{ID: id, EventID: "E1", PriceTier: "standard"})
	}
	require.NoError(t, repos.Seats.CreateSeats(context.Background(), seats))

	publisher := &recordingPublisher{}
	m := metrics.New()
	services := service.NewServices(service.Dependencies{
		Repos:     repos,
		Gateway:   approveAll{},
		Catalog:   external.NewStaticCatalog(repos.Seats, nil),
		Publisher: publisher,
		Metrics:   m,
	}, service.DefaultConfig())

	return &sweepFixture{
		repos:     repos,
		services:  services,
		sweeper:   NewExpirySweeper(repos.Seats, repos.Reservations, nil, publisher, m, DefaultConfig()),
		publisher: publisher,
	}
}

func (fx *sweepFixture) seat(t *testing.T, id string) models.Seat {
	seats, err := fx.repos.Seats.GetSeats(context.Background(), []string{id})
	require.NoError(t, err)
	require.Len(t, seats, 1)
	return seats[0]
}

func TestSweeper_ReclaimsLapsedHold(t *testing.T) {
	fx := newSweepFixture(t, "S1")
	ctx := context.Background()

	res, err := fx.services.Coordinator.Reserve(ctx, service.ReserveRequest{
		EventID: "E1", SeatIDs: []string{"S1"}, UserID: "u1", TTL: 5 * time.Second,
	})
	require.NoError(t, err)

	// before the deadline nothing moves
	n, err := fx.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, models.SeatReserved, fx.seat(t, "S1").Status)

	fx.sweeper.now = func() time.Time { return res.ExpiresAt.Add(time.Second) }
	n, err = fx.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	seat := fx.seat(t, "S1")
	assert.Equal(t, models.SeatAvailable, seat.Status)
	assert.Nil(t, seat.HolderReservationID)

	stored, err := fx.services.Coordinator.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationExpired, stored.Status)
	assert.Contains(t, fx.publisher.subjects, models.EventReservationExpired)

	_, err = fx.services.Finalizer.Confirm(ctx, res.ID, "card")
	assert.ErrorIs(t, err, apperrors.ErrReservationExpired)
}

func TestSweeper_NeverTouchesSoldSeats(t *testing.T) {
	fx := newSweepFixture(t, "S1")
	ctx := context.Background()

	res, err := fx.services.Coordinator.Reserve(ctx, service.ReserveRequest{
		EventID: "E1", SeatIDs: []string{"S1"}, UserID: "u1", TTL: 5 * time.Second,
	})
	require.NoError(t, err)
	_, err = fx.services.Finalizer.Confirm(ctx, res.ID, "card")
	require.NoError(t, err)

	fx.sweeper.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err := fx.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	seat := fx.seat(t, "S1")
	assert.Equal(t, models.SeatSold, seat.Status)
	assert.True(t, seat.HeldBy(res.ID))
}

// racingSeatStore lets another writer move a seat between the sweeper's scan and its update
type racingSeatStore struct {
	repository.SeatStore
	afterList func(ctx context.Context, seats []models.Seat)
}

func (s *racingSeatStore) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]models.Seat, error) {
	seats, err := s.SeatStore.ListExpiredHolds(ctx, now, limit)
	if err == nil && s.afterList != nil {
		s.afterList(ctx, seats)
		s.afterList = nil
	}
	return seats, err
}

func TestSweeper_SkipsSeatThatMovedSinceScan(t *testing.T) {
	fx := newSweepFixture(t, "S1")
	ctx := context.Background()

	res, err := fx.services.Coordinator.Reserve(ctx, service.ReserveRequest{
		EventID: "E1", SeatIDs: []string{"S1"}, UserID: "u1", TTL: 5 * time.Second,
	})
	require.NoError(t, err)

	racing := &racingSeatStore{SeatStore: fx.repos.Seats}
	racing.afterList = func(ctx context.Context, seats []models.Seat) {
		holder := res.ID
		_, err := fx.repos.Seats.ConditionalUpdate(ctx, models.SeatUpdate{
			SeatID: "S1", ExpectedVersion: seats[0].Version, Status: models.SeatSold, Holder: &holder,
		})
		require.NoError(t, err)
	}
	fx.sweeper.seats = racing
	fx.sweeper.now = func() time.Time { return res.ExpiresAt.Add(time.Second) }

	n, err := fx.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, models.SeatSold, fx.seat(t, "S1").Status)

	stored, err := fx.services.Coordinator.GetReservation(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationPending, stored.Status)
}

func TestSweeper_StartStop(t *testing.T) {
	fx := newSweepFixture(t, "S1")
	ctx := context.Background()

	_, err := fx.services.Coordinator.Reserve(ctx, service.ReserveRequest{
		EventID: "E1", SeatIDs: []string{"S1"}, UserID: "u1", TTL: time.Second,
	})
	require.NoError(t, err)

	fx.sweeper.cfg.SweepInterval = 10 * time.Millisecond
	fx.sweeper.now = func() time.Time { return time.Now().Add(time.Minute) }
	fx.sweeper.Start(ctx)
	defer fx.sweeper.Stop()

	assert.Eventually(t, func() bool {
		return fx.seat(t, "S1").Status == models.SeatAvailable
	}, time.Second, 10*time.Millisecond)
}

func TestAdmissionAdvancer_FillsFreedSlots(t *testing.T) {
	ctx := context.Background()
	cfg := admission.DefaultConfig()
	cfg.Capacity = 1
	controller := admission.NewMemoryController(cfg)

	first, err := controller.Enqueue(ctx, "E1", "u1")
	require.NoError(t, err)
	second, err := controller.Enqueue(ctx, "E1", "u2")
	require.NoError(t, err)
	require.Equal(t, models.QueueWaiting, second.State)

	publisher := &recordingPublisher{}
	advancer := NewAdmissionAdvancer(controller, publisher, metrics.New(), DefaultConfig(), cfg.GraceWindow)

	n, err := advancer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, controller.Complete(ctx, first.Token))
	n, err = advancer.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{models.EventQueueAdmitted}, publisher.subjects)

	assert.NoError(t, controller.Validate(ctx, second.Token, "E1", "u2"))
}
