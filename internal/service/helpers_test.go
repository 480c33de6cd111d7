package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"boxoffice/internal/external"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
)

const testEvent = "E1"

var errDown = errors.New("connection refused")

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []any
}

func (p *recordingPublisher) Publish(ctx context.Context, subject string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	mu       sync.Mutex
	status   external.ChargeStatus
	err      error
	calls    int
	amounts  []int64
	onCharge func(ctx context.Context, req external.ChargeRequest)
}

func (g *fakeGateway) Charge(ctx context.Context, req external.ChargeRequest) (external.ChargeResult, error) {
	g.mu.Lock()
	g.calls++
	g.amounts = append(g.amounts, req.Amount)
	status, err, hook := g.status, g.err, g.onCharge
	g.mu.Unlock()

	if hook != nil {
		hook(ctx, req)
	}
	if err != nil {
		return external.ChargeResult{}, err
	}
	if status == "" {
		status = external.ChargeApproved
	}
	return external.ChargeResult{Status: status, PaymentID: "pay-" + req.ReservationID, Reason: "card declined"}, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeGate struct {
	mu        sync.Mutex
	err       error
	completed []string
}

func (g *fakeGate) Validate(ctx context.Context, token, eventID, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

func (g *fakeGate) Complete(ctx context.Context, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed = append(g.completed, token)
	return nil
}

// hookedSeatStore lets a test interleave a competing write or a failure into a store call
type hookedSeatStore struct {
	repository.SeatStore
	beforeUpdate func(ctx context.Context, u models.SeatUpdate) error
	getErr       error
}

func (s *hookedSeatStore) ConditionalUpdate(ctx context.Context, u models.SeatUpdate) (int64, error) {
	if s.beforeUpdate != nil {
		if err := s.beforeUpdate(ctx, u); err != nil {
			return 0, err
		}
	}
	return s.SeatStore.ConditionalUpdate(ctx, u)
}

func (s *hookedSeatStore) GetSeats(ctx context.Context, ids []string) ([]models.Seat, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.SeatStore.GetSeats(ctx, ids)
}

type failingReservationStore struct {
	repository.ReservationStore
	createErr error
	// updateErr, when set, is consulted before each status change
	updateErr func(to models.ReservationStatus) error
}

func (s *failingReservationStore) UpdateStatus(ctx context.Context, id string, from []models.ReservationStatus, to models.ReservationStatus) (bool, error) {
	if s.updateErr != nil {
		if err := s.updateErr(to); err != nil {
			return false, err
		}
	}
	return s.ReservationStore.UpdateStatus(ctx, id, from, to)
}

func (s *failingReservationStore) Create(ctx context.Context, r *models.Reservation) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.ReservationStore.Create(ctx, r)
}

type fixture struct {
	repos       *repository.Repositories
	store       *hookedSeatStore
	publisher   *recordingPublisher
	gateway     *fakeGateway
	coordinator *Coordinator
	finalizer   *Finalizer
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = RetryPolicy{MaxAttempts: 4, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Jitter: 0.5}
	cfg.CompensationTimeout = time.Second
	return cfg
}

func newFixture(t *testing.T, gate AdmissionGate, seatIDs ...string) *fixture {
	t.Helper()

	repos := repository.NewMemoryRepositories()
	seats := make([]models.Seat, 0, len(seatIDs))
	for i, id := range seatIDs {
		seats = append(seats, models.Seat{ID: id, EventID: testEvent, Section: "A", Row: "1", Number: i + 1, PriceTier: "standard"})
	}
	require.NoError(t, repos.Seats.CreateSeats(context.Background(), seats))

	store := &hookedSeatStore{SeatStore: repos.Seats}
	repos.Seats = store

	fx := &fixture{
		repos:     repos,
		store:     store,
		publisher: &recordingPublisher{},
		gateway:   &fakeGateway{},
	}

	deps := Dependencies{
		Repos:     repos,
		Admission: gate,
		Gateway:   fx.gateway,
		Catalog:   external.NewStaticCatalog(repos.Seats, nil),
		Publisher: fx.publisher,
		Metrics:   metrics.New(),
	}
	services := NewServices(deps, testConfig())
	fx.coordinator = services.Coordinator
	fx.finalizer = services.Finalizer
	return fx
}

func (fx *fixture) seat(t *testing.T, id string) models.Seat {
	t.Helper()
	seats, err := fx.repos.Seats.GetSeats(context.Background(), []string{id})
	require.NoError(t, err)
	require.Len(t, seats, 1)
	return seats[0]
}

func (fx *fixture) reserve(t *testing.T, user string, seatIDs ...string) *models.Reservation {
	t.Helper()
	res, err := fx.coordinator.Reserve(context.Background(), ReserveRequest{
		EventID:    testEvent,
		SeatIDs:    seatIDs,
		UserID:     user,
		TTL:        time.Minute,
		QueueToken: "tok-" + user,
	})
	require.NoError(t, err)
	return res
}
