package models

import "time"

// Notification subjects
const (
	EventReservationCreated   = "reservation.created"
	EventReservationCancelled = "reservation.cancelled"
	EventReservationExpired   = "reservation.expired"
	EventBookingConfirmed     = "booking.confirmed"
	EventBookingFailed        = "booking.failed"
	EventRefundRequired       = "payment.refund_required"
	EventQueueAdmitted        = "queue.admitted"
)

// ReservationCreatedEvent is published when a hold is placed
type ReservationCreatedEvent struct {
	ReservationID string    `json:"reservation_id"`
	EventID       string    `json:"event_id"`
	UserID        string    `json:"user_id"`
	SeatIDs       []string  `json:"seat_ids"`
	ExpiresAt     time.Time `json:"expires_at"`
	Timestamp     time.Time `json:"timestamp"`
}

// ReservationReleasedEvent is published when a hold is cancelled or expires
type ReservationReleasedEvent struct {
	ReservationID string    `json:"reservation_id"`
	EventID       string    `json:"event_id"`
	UserID        string    `json:"user_id"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}

// BookingEvent is published when a booking settles either way
type BookingEvent struct {
	BookingID     string        `json:"booking_id"`
	ReservationID string        `json:"reservation_id"`
	UserID        string        `json:"user_id"`
	Status        BookingStatus `json:"status"`
	TotalPrice    int64         `json:"total_price"`
	Reason        string        `json:"reason,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// RefundRequiredEvent is published when a charge was approved but the seats could not be sold
type RefundRequiredEvent struct {
	BookingID     string    `json:"booking_id"`
	ReservationID string    `json:"reservation_id"`
	PaymentID     string    `json:"payment_id"`
	Amount        int64     `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
}

// QueueAdmittedEvent is published for every token released from the waiting room
type QueueAdmittedEvent struct {
	Token      string    `json:"token"`
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	AdmittedAt time.Time `json:"admitted_at"`
	GraceUntil time.Time `json:"grace_until"`
}

// MessageKey keys reservation events by reservation id
func (e ReservationCreatedEvent) MessageKey() string { return e.ReservationID }
func (e ReservationReleasedEvent) MessageKey() string { return e.ReservationID }
func (e BookingEvent) MessageKey() string { return e.ReservationID }
func (e RefundRequiredEvent) MessageKey() string { return e.ReservationID }
func (e QueueAdmittedEvent) MessageKey() string { return e.EventID }
