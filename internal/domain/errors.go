package domain

import "github.com/pkg/errors"

// Exchange rejections the orchestrators react to. Exchange adapters map their
// native error codes onto these values so callers can use errors.Is.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidVolume     = errors.New("invalid order volume")
	ErrRateLimited       = errors.New("rate limited")
	ErrOrderNotFound     = errors.New("order not found")
)

var (
	// ErrInvalidParameter is returned for strategy parameters that cannot produce a ladder.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrInvariantViolation marks a state the bot must never reach, e.g. two active sell orders.
	ErrInvariantViolation = errors.New("invariant violation")
)

// IsTransient reports whether err is worth retrying on a later attempt.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
