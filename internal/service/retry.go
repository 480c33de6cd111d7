package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Outcome tags the result of one attempt or of a whole retried operation
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeVersionConflict
	OutcomeStoreUnavailable
	OutcomeRejected
	OutcomeRetriesExhausted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeVersionConflict:
		return "version_conflict"
	case OutcomeStoreUnavailable:
		return "store_unavailable"
	case OutcomeRejected:
		return "rejected"
	case OutcomeRetriesExhausted:
		return "retries_exhausted"
	}
	return "unknown"
}

func (o Outcome) retryable() bool {
	return o == OutcomeVersionConflict || o == OutcomeStoreUnavailable
}

// Result is what an attempt reports back to the policy. When the policy gives up,
// Outcome is OutcomeRetriesExhausted and Cause holds the last retryable outcome.
type Result struct {
	Outcome  Outcome
	Err      error
	Attempts int
	Cause    Outcome
}

func Ok() Result                   { return Result{Outcome: OutcomeOK} }
func Conflict(err error) Result    { return Result{Outcome: OutcomeVersionConflict, Err: err} }
func Unavailable(err error) Result { return Result{Outcome: OutcomeStoreUnavailable, Err: err} }
func Rejected(err error) Result    { return Result{Outcome: OutcomeRejected, Err: err} }

// RetryPolicy bounds how often a whole operation is re-run after a conflict or store error
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Jitter          float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
		Jitter:          0.5,
	}
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = p.Jitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run calls fn until it returns a non-retryable outcome or the attempt budget is spent.
// Waiting between attempts stops early when ctx is done.
func (p RetryPolicy) Run(ctx context.Context, fn func(ctx context.Context, attempt int) Result) Result {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	b := p.newBackOff()
	for attempt := 1; ; attempt++ {
		res := fn(ctx, attempt)
		res.Attempts = attempt
		if !res.Outcome.retryable() {
			return res
		}

		if attempt >= maxAttempts {
			return Result{Outcome: OutcomeRetriesExhausted, Err: res.Err, Attempts: attempt, Cause: res.Outcome}
		}

		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{Outcome: OutcomeRetriesExhausted, Err: ctx.Err(), Attempts: attempt, Cause: res.Outcome}
		case <-timer.C:
		}
	}
}
