package reconcile

import (
	"context"

	"github.com/dmitrymomot/pixelcredits/pkg/billing"
	"github.com/dmitrymomot/pixelcredits/svc/credits"
)

// Downgrade reasons passed to Notifier.SubscriptionDowngraded.
const (
	ReasonPaymentFailed       = "payment_failed"
	ReasonSubscriptionDeleted = "subscription_deleted"
)

// Notifier tells users about billing changes. Calls are best effort: they
// run after the event's transaction has committed, return nothing and must
// not block the webhook response for long. The user is passed by value as a
// snapshot of the committed state.
type Notifier interface {
	// PlanActivated is called after a subscription checkout or plan change
	// granted the plan's monthly credits.
	PlanActivated(ctx context.Context, user credits.User, plan billing.Plan)
	// CreditsPurchased is called after a credit pack was added to the
	// purchased bucket.
	CreditsPurchased(ctx context.Context, user credits.User, amount int64)
	// SubscriptionDowngraded is called when a paid user fell back to the free
	// plan. reason is ReasonPaymentFailed or ReasonSubscriptionDeleted.
	SubscriptionDowngraded(ctx context.Context, user credits.User, reason string)
}

// noopNotifier is the default when no notifier is configured.
type noopNotifier struct{}

func (noopNotifier) PlanActivated(context.Context, credits.User, billing.Plan)    {}
func (noopNotifier) CreditsPurchased(context.Context, credits.User, int64)        {}
func (noopNotifier) SubscriptionDowngraded(context.Context, credits.User, string) {}
