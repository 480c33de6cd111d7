package errors

import "errors"

// Client-visible outcomes
var (
	ErrSeatsUnavailable          = errors.New("seats unavailable")
	ErrServiceUnavailable        = errors.New("service unavailable")
	ErrReservationExpired        = errors.New("reservation expired")
	ErrPaymentDeclined           = errors.New("payment declined")
	ErrPaymentUnavailable        = errors.New("payment gateway unavailable")
	ErrNotFound                  = errors.New("not found")
	ErrInvalidRequest            = errors.New("invalid request")
	ErrReservationNotCancellable = errors.New("reservation cannot be cancelled")
	ErrAdmissionCapacityExceeded = errors.New("waiting for admission")
	ErrQueueTokenInvalid         = errors.New("queue token invalid or expired")
	ErrQueueTokenInUse           = errors.New("queue token already holds seats")
)

// Internal outcomes; never returned to clients as such
var (
	ErrVersionConflict   = errors.New("version conflict")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrInvalidTransition = errors.New("invalid seat transition")
)
