package generation

import "errors"

var (
	ErrInvalidRequest   = errors.New("generation: invalid request")
	ErrGenerationFailed = errors.New("generation: image generation failed")
	ErrInvalidConfig    = errors.New("generation: invalid config")

	// Client errors.
	ErrPermanentFailure = errors.New("generation: permanent api failure")
	ErrTemporaryFailure = errors.New("generation: temporary api failure")
	ErrTimeout          = errors.New("generation: api request timeout")
	ErrCircuitOpen      = errors.New("generation: circuit breaker is open")
)
