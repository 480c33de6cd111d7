package models

import (
	"time"
)

// SeatStatus is the inventory state of a single seat
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatReserved  SeatStatus = "RESERVED"
	SeatSold      SeatStatus = "SOLD"
)

// Valid reports whether s is one of the known seat states
func (s SeatStatus) Valid() bool {
	switch s {
	case SeatAvailable, SeatReserved, SeatSold:
		return true
	}
	return false
}

// seatPredecessors lists, for every target state, the states a seat may move from.
// SOLD -> AVAILABLE exists only for the finalizer's in-call compensation.
var seatPredecessors = map[SeatStatus][]SeatStatus{
	SeatReserved:  {SeatAvailable},
	SeatSold:      {SeatReserved},
	SeatAvailable: {SeatReserved, SeatSold},
}

// AllowedPredecessors returns the states from which a seat may move to target
func AllowedPredecessors(target SeatStatus) []SeatStatus {
	return seatPredecessors[target]
}

// CanTransition reports whether from -> to is an accepted seat transition
func CanTransition(from, to SeatStatus) bool {
	for _, s := range seatPredecessors[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Seat represents a seat record in the inventory store
type Seat struct {
	ID                  string     `json:"id" db:"id"`
	EventID             string     `json:"event_id" db:"event_id"`
	Section             string     `json:"section" db:"section"`
	Row                 string     `json:"row" db:"row_label"`
	Number              int        `json:"number" db:"seat_number"`
	PriceTier           string     `json:"price_tier" db:"price_tier"`
	Status              SeatStatus `json:"status" db:"status"`
	Version             int64      `json:"version" db:"version"`
	HolderReservationID *string    `json:"holder_reservation_id,omitempty" db:"holder_reservation_id"`
	ReservedUntil       *time.Time `json:"reserved_until,omitempty" db:"reserved_until"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}

// HeldBy reports whether the seat is currently claimed by the given reservation
func (s *Seat) HeldBy(reservationID string) bool {
	return s.HolderReservationID != nil && *s.HolderReservationID == reservationID
}

// SeatUpdate is a version-guarded write against a single seat
type SeatUpdate struct {
	SeatID          string
	ExpectedVersion int64
	Status          SeatStatus
	Holder          *string
	ReservedUntil   *time.Time
}

// ReservationStatus is the lifecycle state of a hold
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "PENDING"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationExpired   ReservationStatus = "EXPIRED"
	ReservationCancelled ReservationStatus = "CANCELLED"
)

// Reservation is a time-bounded hold on a set of seats
type Reservation struct {
	ID         string            `json:"id" db:"id"`
	EventID    string            `json:"event_id" db:"event_id"`
	UserID     string            `json:"user_id" db:"user_id"`
	SeatIDs    []string          `json:"seat_ids"`
	Status     ReservationStatus `json:"status" db:"status"`
	QueueToken string            `json:"-" db:"queue_token"`
	CreatedAt  time.Time         `json:"created_at" db:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at" db:"expires_at"`
	UpdatedAt  time.Time         `json:"updated_at" db:"updated_at"`

	// SeatVersions holds the version each seat was left at when this reservation took it.
	SeatVersions map[string]int64 `json:"-"`
}

// Expired reports whether the hold's TTL has lapsed at now
func (r *Reservation) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// BookingStatus is the payment outcome state of a booking
type BookingStatus string

const (
	BookingPendingPayment BookingStatus = "PENDING_PAYMENT"
	BookingConfirmed      BookingStatus = "CONFIRMED"
	BookingFailed         BookingStatus = "FAILED"
)

// Booking represents the settlement of a reservation
type Booking struct {
	ID            string        `json:"id" db:"id"`
	ReservationID string        `json:"reservation_id" db:"reservation_id"`
	UserID        string        `json:"user_id" db:"user_id"`
	TotalPrice    int64         `json:"total_price" db:"total_price"`
	Status        BookingStatus `json:"status" db:"status"`
	PaymentID     *string       `json:"payment_id,omitempty" db:"payment_id"`
	FailureReason *string       `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// QueueState is the admission state of a queue token
type QueueState string

const (
	QueueWaiting   QueueState = "WAITING"
	QueueAdmitted  QueueState = "ADMITTED"
	QueueExpired   QueueState = "EXPIRED"
	QueueCompleted QueueState = "COMPLETED"
)

// QueueToken is a caller's place in an event's waiting room
type QueueToken struct {
	Token      string     `json:"token"`
	EventID    string     `json:"event_id"`
	UserID     string     `json:"user_id"`
	Position   int64      `json:"position"`
	State      QueueState `json:"state"`
	IssuedAt   time.Time  `json:"issued_at"`
	AdmittedAt *time.Time `json:"admitted_at,omitempty"`
}

// QueueStatus is a point-in-time view of a queue token
type QueueStatus struct {
	Token      string     `json:"token"`
	EventID    string     `json:"event_id"`
	Position   int64      `json:"position"`
	Admitted   bool       `json:"admitted"`
	Ahead      int64      `json:"ahead"`
	State      QueueState `json:"state"`
	AdmittedAt *time.Time `json:"admitted_at,omitempty"`
	GraceUntil *time.Time `json:"grace_until,omitempty"`
}

// SeatInfo is the catalog view of a seat
type SeatInfo struct {
	SeatID    string `json:"seat_id"`
	Section   string `json:"section"`
	Row       string `json:"row"`
	PriceTier string `json:"price_tier"`
	Price     int64  `json:"price"`
}
