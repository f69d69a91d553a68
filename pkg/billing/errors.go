package billing

import "errors"

var (
	ErrInvalidConfig     = errors.New("billing: invalid provider config")
	ErrUnknownProvider   = errors.New("billing: unknown provider")
	ErrDuplicateProvider = errors.New("billing: provider registered twice")
	ErrMissingSignature  = errors.New("billing: missing webhook signature")
	ErrInvalidSignature  = errors.New("billing: invalid webhook signature")
	ErrMalformedPayload  = errors.New("billing: malformed webhook payload")
	ErrProviderAPI       = errors.New("billing: provider api call failed")
	ErrUnsupported       = errors.New("billing: operation not supported by provider")
	ErrInvalidParams     = errors.New("billing: invalid params")
	ErrPlanNotFound      = errors.New("billing: plan not found")
	ErrInvalidCatalog    = errors.New("billing: invalid plan catalog")
	ErrInvalidCurrency   = errors.New("billing: invalid currency")
)
