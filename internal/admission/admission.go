// Package admission implements the per-event waiting room that caps how many callers
// may attempt reservations at once.
package admission

import (
	"context"
	"fmt"
	"time"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
)

// Controller is a FIFO waiting room per event with a cap on admitted tokens
type Controller interface {
	// Enqueue issues a token, or returns the caller's live token if they already hold one.
	Enqueue(ctx context.Context, eventID, userID string) (models.QueueToken, error)
	// Admit expires lapsed grace windows, then admits up to batch waiting tokens in position order.
	Admit(ctx context.Context, eventID string, batch int) ([]models.QueueToken, error)
	Status(ctx context.Context, token string) (models.QueueStatus, error)
	Validate(ctx context.Context, token, eventID, userID string) error
	// Complete frees the token's slot or its place in line. It is idempotent.
	Complete(ctx context.Context, token string) error
	Events(ctx context.Context) ([]string, error)
	Waiting(ctx context.Context, eventID string) (int64, error)
}

type Config struct {
	Capacity    int
	GraceWindow time.Duration
	TokenTTL    time.Duration
	KeyPrefix   string
}

func DefaultConfig() Config {
	return Config{
		Capacity:    100,
		GraceWindow: 5 * time.Minute,
		TokenTTL:    24 * time.Hour,
		KeyPrefix:   "boxoffice",
	}
}

// NotAdmittedError is returned by Validate for a token that is still waiting
type NotAdmittedError struct {
	Position int64
	Ahead    int64
}

func (e *NotAdmittedError) Error() string {
	return fmt.Sprintf("%s: position %d, %d ahead", apperrors.ErrAdmissionCapacityExceeded, e.Position, e.Ahead)
}

func (e *NotAdmittedError) Unwrap() error {
	return apperrors.ErrAdmissionCapacityExceeded
}

func graceUntil(admittedAt *time.Time, grace time.Duration) *time.Time {
	if admittedAt == nil {
		return nil
	}
	t := admittedAt.Add(grace)
	return &t
}

// check applies Validate's rules to a resolved status
func check(status models.QueueStatus, owner models.QueueToken, eventID, userID string) error {
	if owner.EventID != eventID || owner.UserID != userID {
		return apperrors.ErrQueueTokenInvalid
	}
	switch {
	case status.Admitted:
		return nil
	case status.State == models.QueueWaiting:
		return &NotAdmittedError{Position: status.Position, Ahead: status.Ahead}
	}
	return apperrors.ErrQueueTokenInvalid
}
