package billing

import (
	"encoding/json"
	"time"
)

// Event is a verified, parsed webhook delivery.
type Event struct {
	ID       string
	Provider string
	Type     string // provider event name, e.g. "invoice.paid"
	Created  time.Time
	Raw      json.RawMessage
	Payload  Payload // nil when the event type is not handled
}

// Kind returns the normalized kind, KindIgnored for unhandled types.
func (e Event) Kind() Kind {
	if e.Payload == nil {
		return KindIgnored
	}
	return e.Payload.kind()
}

// Kind is the normalized event category.
type Kind string

// Kinds are also the "kind" label of the webhook metrics.
const (
	KindCheckoutCompleted   Kind = "checkout_completed"
	KindPaymentSucceeded    Kind = "payment_succeeded"
	KindPaymentFailed       Kind = "payment_failed"
	KindSubscriptionUpdated Kind = "subscription_updated"
	KindSubscriptionDeleted Kind = "subscription_deleted"
	KindIgnored             Kind = "ignored"
)

// Payload is the closed set of handled event payloads.
// Only types in this package implement it.
type Payload interface {
	kind() Kind
}

// CheckoutMode distinguishes subscription checkouts from one-time payments.
type CheckoutMode string

const (
	CheckoutModeSubscription CheckoutMode = "subscription"
	CheckoutModePayment      CheckoutMode = "payment"
)

// Metadata keys written on checkout sessions and read back from webhooks.
// The values must stay stable: checkouts created by an older release are
// still completed by the current one.
const (
	MetaUserID  = "userId"
	MetaPlan    = "plan"
	MetaType    = "type"
	MetaCredits = "credits"

	// PurchaseTypeCredits is the MetaType value of a credit pack checkout.
	PurchaseTypeCredits = "credit_purchase"
)

// CheckoutCompleted is a finished hosted checkout.
type CheckoutCompleted struct {
	SessionID         string
	Mode              CheckoutMode
	CustomerID        string
	SubscriptionID    string
	PaymentRef        string // payment intent or transaction id
	ClientReferenceID string
	Metadata          map[string]string
}

func (CheckoutCompleted) kind() Kind { return KindCheckoutCompleted }

// UserID prefers metadata and falls back to the client reference.
func (c CheckoutCompleted) UserID() string {
	if id := c.Metadata[MetaUserID]; id != "" {
		return id
	}
	return c.ClientReferenceID
}

// Plan is the plan named in metadata.
func (c CheckoutCompleted) Plan() PlanID {
	return PlanID(c.Metadata[MetaPlan])
}

// IsCreditPurchase reports a one-time credit pack purchase.
func (c CheckoutCompleted) IsCreditPurchase() bool {
	return c.Mode == CheckoutModePayment && c.Metadata[MetaType] == PurchaseTypeCredits
}

// IsSubscription reports a subscription checkout that names a plan.
func (c CheckoutCompleted) IsSubscription() bool {
	return c.Mode == CheckoutModeSubscription && c.Plan() != ""
}

// PaymentReference is the id ledger entries for this purchase are keyed by.
func (c CheckoutCompleted) PaymentReference() string {
	if c.PaymentRef != "" {
		return c.PaymentRef
	}
	return c.SessionID
}

// PaymentSucceeded is a paid invoice: Stripe invoice.paid or Paddle
// transaction.completed for a subscription. It drives the monthly reset
// except for the subscription's first invoice.
type PaymentSucceeded struct {
	Invoice Invoice
}

func (PaymentSucceeded) kind() Kind { return KindPaymentSucceeded }

// PaymentFailed is a failed collection attempt. Invoice.AttemptCount tells
// how many attempts the provider has made so far.
type PaymentFailed struct {
	Invoice Invoice
}

func (PaymentFailed) kind() Kind { return KindPaymentFailed }

// SubscriptionUpdated carries the provider's full view of a subscription
// after any change: plan switch, cancel flag or status.
type SubscriptionUpdated struct {
	Subscription Subscription
}

func (SubscriptionUpdated) kind() Kind { return KindSubscriptionUpdated }

// SubscriptionDeleted is a subscription that has ended, either at period
// end or immediately.
type SubscriptionDeleted struct {
	Subscription Subscription
}

func (SubscriptionDeleted) kind() Kind { return KindSubscriptionDeleted }

// BillingReasonSubscriptionCreate marks the first invoice of a subscription.
// Its credits are granted by the checkout handler.
const BillingReasonSubscriptionCreate = "subscription_create"

// Invoice is a recurring charge.
type Invoice struct {
	ID         string
	CustomerID string
	// Subscription is never nil after parsing.
	Subscription SubscriptionRef
	// BillingReason is BillingReasonSubscriptionCreate for the first invoice.
	// Other values are passed through from the provider.
	BillingReason string
	AttemptCount  int
	// PeriodEnd is the end of the paid period, zero when unknown.
	PeriodEnd  time.Time
	AmountPaid Money
}

// SubscriptionRef is how an invoice links to its subscription.
// It is one of KnownSubscription, RecoverableSubscription or
// UnresolvableSubscription.
type SubscriptionRef interface {
	subscriptionRef()
}

// KnownSubscription carries the id found in the payload.
type KnownSubscription struct {
	ID string
}

// RecoverableSubscription has no id in the payload; the full invoice must be
// fetched from the provider by InvoiceID.
type RecoverableSubscription struct {
	InvoiceID string
}

// UnresolvableSubscription has neither a subscription id nor an invoice id.
type UnresolvableSubscription struct{}

func (KnownSubscription) subscriptionRef()        {}
func (RecoverableSubscription) subscriptionRef()  {}
func (UnresolvableSubscription) subscriptionRef() {}

// KnownSubscriptionID returns the id when ref is KnownSubscription.
func KnownSubscriptionID(ref SubscriptionRef) (string, bool) {
	k, ok := ref.(KnownSubscription)
	if !ok || k.ID == "" {
		return "", false
	}
	return k.ID, true
}
