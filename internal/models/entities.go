package models

import "time"

// ReserveRequest - request body for POST /api/v1/reservations
type ReserveRequest struct {
	EventID    string   `json:"event_id" binding:"required"`
	SeatIDs    []string `json:"seat_ids" binding:"required,min=1,dive,required"`
	UserID     string   `json:"user_id" binding:"required"`
	TTLSeconds int      `json:"ttl_seconds" binding:"min=0,max=86400"`
	QueueToken string   `json:"queue_token,omitempty"`
}

// ReserveResponse - response for a successful hold
type ReserveResponse struct {
	ReservationID string    `json:"reservation_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ConfirmRequest - request body for POST /api/v1/reservations/:id/confirm
type ConfirmRequest struct {
	PaymentToken string `json:"payment_token" binding:"required"`
}

// ConfirmResponse - response for a settled booking
type ConfirmResponse struct {
	BookingID  string        `json:"booking_id"`
	Status     BookingStatus `json:"status"`
	TotalPrice int64         `json:"total_price"`
}

// JoinQueueRequest - request body for POST /api/v1/queue
type JoinQueueRequest struct {
	EventID string `json:"event_id" binding:"required"`
	UserID  string `json:"user_id" binding:"required"`
}

// JoinQueueResponse - response for a queue join
type JoinQueueResponse struct {
	Position int64  `json:"position"`
	Token    string `json:"token"`
}

// ErrorResponse - error body returned by every endpoint
type ErrorResponse struct {
	Error    string `json:"error"`
	Position *int64 `json:"position,omitempty"`
}
