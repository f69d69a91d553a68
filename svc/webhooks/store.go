package webhooks

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pixelcredits/pkg/billing"
	"github.com/dmitrymomot/pixelcredits/svc/reconcile"
)

// EventStore persists inbound webhook events. (provider, event id) is unique.
type EventStore interface {
	// GetEvent returns ErrEventNotFound when the pair is unknown.
	GetEvent(ctx context.Context, provider, eventID string) (*Event, error)
	// InsertEvent returns ErrDuplicateEvent when the pair already exists.
	InsertEvent(ctx context.Context, event *Event) error
	// MarkEventProcessed sets the processed flag and clears the error.
	MarkEventProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkEventFailed sets the processed flag and stores the error text. A
	// failed event is not done and will be processed again on redelivery.
	MarkEventFailed(ctx context.Context, id uuid.UUID, processingError string, at time.Time) error
}

// TxRunner runs fn in one database transaction carried by ctx. Stores that
// look up the transaction in ctx join it, which is how the event row and the
// user changes commit together.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Dispatcher applies a parsed event to local state. *reconcile.Router is
// the production implementation.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *billing.Event) (*reconcile.Result, error)
}
