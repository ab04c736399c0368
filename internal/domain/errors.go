package domain

import "errors"

// Rejection reasons surfaced by admission control and allocation. These are
// expected, non-fatal, and never retried.
var (
	ErrLowConfidence   = errors.New("confidence below threshold")
	ErrLowAIConfidence = errors.New("ai confidence below threshold")
	ErrPositionLimit   = errors.New("position limit exceeded")
	ErrDailyLossLimit  = errors.New("daily loss limit exceeded")
	ErrNoCapacity      = errors.New("no wallet has sufficient risk budget")
)

// Infrastructure and validation errors.
var (
	ErrInvalidSignal     = errors.New("invalid signal")
	ErrNotFound          = errors.New("not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrVenueUnavailable  = errors.New("venue unavailable")
	ErrWalletDisabled    = errors.New("wallet disabled")
)

// IsRejection reports whether err is one of the admission-control rejection
// reasons (as opposed to an infrastructure failure).
func IsRejection(err error) bool {
	return errors.Is(err, ErrLowConfidence) ||
		errors.Is(err, ErrLowAIConfidence) ||
		errors.Is(err, ErrPositionLimit) ||
		errors.Is(err, ErrDailyLossLimit) ||
		errors.Is(err, ErrNoCapacity)
}

// IsTransient reports whether an execution error is worth retrying. Venue
// congestion and network faults are transient; bad signatures and missing
// funds are not.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrVenueUnavailable)
}
