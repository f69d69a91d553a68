package credits

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound        = errors.New("credits: user not found")
	ErrEmailTaken          = errors.New("credits: email already registered")
	ErrInvalidEmail        = errors.New("credits: invalid email")
	ErrInvalidAmount       = errors.New("credits: amount must be positive")
	ErrInvalidBucket       = errors.New("credits: invalid bucket")
	ErrInsufficientCredits = errors.New("credits: insufficient credits")
	ErrInvalidReservation  = errors.New("credits: invalid reservation")
)

// InsufficientCreditsError describes a rejected deduction.
// It matches ErrInsufficientCredits with errors.Is.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

// Error implements error.
func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("%s: required %d, available %d", ErrInsufficientCredits, e.Required, e.Available)
}

// Is makes errors.Is(err, ErrInsufficientCredits) true.
func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}
