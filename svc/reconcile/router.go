package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/pixelcredits/pkg/billing"
	"github.com/dmitrymomot/pixelcredits/pkg/logger"
	"github.com/dmitrymomot/pixelcredits/svc/credits"
)

// FailedPaymentLimit is the attempt count at which a failing subscription is
// downgraded.
const FailedPaymentLimit = 3

// creditPeriod is the reset horizon when the provider gives no period end.
const creditPeriod = 30 * 24 * time.Hour

var (
	// ErrUnknownPlan is returned when a subscription checkout names a plan
	// that the catalog does not define. The event is retried, since the
	// catalog may be updated before the next delivery.
	ErrUnknownPlan = errors.New("reconcile: plan in checkout metadata is not in the catalog")
	// ErrUnknownPayload is returned for an event payload type that no
	// handler accepts.
	ErrUnknownPayload = errors.New("reconcile: unknown event payload")
)

// Router dispatches parsed webhook events to the reconciliation handlers.
// It holds no per-event state and is safe for concurrent use. Concurrent
// events for the same user are serialized by the row lock taken through
// credits.Store.GetUserForUpdate.
type Router struct {
	store     credits.Store
	ledger    credits.Service
	catalog   *billing.Catalog
	providers *billing.Registry
	notifier  Notifier
	log       *slog.Logger
	now       func() time.Time
}

// Option configures the Router.
type Option func(*Router)

// WithNotifier sets the receiver of post-commit notifications such as plan
// activation emails. A nil notifier is ignored and the default no-op stays.
func WithNotifier(n Notifier) Option {
	return func(r *Router) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithLogger sets the logger. Every handler logs with the provider, event id
// and event type attached.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.log = l }
}

// WithClock replaces time.Now. Timestamps written to users and the fallback
// reset dates are derived from it, which keeps tests deterministic.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// NewRouter creates a Router.
// Panics if store, ledger, catalog or providers is nil to fail fast during
// initialization. The ledger must share the store's transaction handling so
// that grants join the handler's transaction.
func NewRouter(store credits.Store, ledger credits.Service, catalog *billing.Catalog, providers *billing.Registry, opts ...Option) *Router {
	if store == nil || ledger == nil || catalog == nil || providers == nil {
		panic("reconcile: store, ledger, catalog and providers are required")
	}
	r := &Router{
		store:     store,
		ledger:    ledger,
		catalog:   catalog,
		providers: providers,
		notifier:  noopNotifier{},
		log:       logger.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch applies ev. Handlers open their own transaction through the store,
// so a caller holding a transaction in ctx gets all writes in it.
// Unresolvable linkage returns OutcomeUnresolved with a nil error: retrying
// cannot fix a missing link.
func (r *Router) Dispatch(ctx context.Context, ev *billing.Event) (*Result, error) {
	if ev == nil {
		return nil, ErrUnknownPayload
	}
	log := r.log.With(logger.Provider(ev.Provider), logger.EventID(ev.ID), logger.EventType(ev.Type))

	if ev.Payload == nil {
		log.DebugContext(ctx, "event type not handled")
		return newResult(OutcomeIgnored), nil
	}

	provider, err := r.providers.Get(ev.Provider)
	if err != nil {
		return nil, err
	}

	h := &handler{Router: r, provider: provider, event: ev, log: log}

	var res *Result
	switch p := ev.Payload.(type) {
	case billing.CheckoutCompleted:
		res, err = h.checkoutCompleted(ctx, p)
	case billing.PaymentSucceeded:
		res, err = h.paymentSucceeded(ctx, p.Invoice)
	case billing.PaymentFailed:
		res, err = h.paymentFailed(ctx, p.Invoice)
	case billing.SubscriptionUpdated:
		res, err = h.subscriptionUpdated(ctx, p.Subscription)
	case billing.SubscriptionDeleted:
		res, err = h.subscriptionDeleted(ctx, p.Subscription)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownPayload, p)
	}
	if err != nil {
		log.ErrorContext(ctx, "event handler failed", logger.Error(err))
		return nil, err
	}

	log.InfoContext(ctx, "event reconciled", slog.String("outcome", string(res.Outcome)))
	return res, nil
}
