package webhooks

import "errors"

var (
	ErrEventNotFound    = errors.New("webhooks: event not found")
	ErrDuplicateEvent   = errors.New("webhooks: event already recorded")
	ErrEventInFlight    = errors.New("webhooks: event is being processed by another delivery")
	ErrLockNotHeld      = errors.New("webhooks: lock is not held")
	ErrProcessingFailed = errors.New("webhooks: event processing failed")
	ErrPayloadTooLarge  = errors.New("webhooks: payload too large")
)
