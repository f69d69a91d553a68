package billing

import (
	"context"
	"net/http"
	"time"
)

// Provider hides a payment provider SDK behind the capabilities the billing
// core needs. Call sites never branch on provider identity.
type Provider interface {
	// Name is the registry key and the {provider} segment of the webhook URL.
	Name() string

	// CreateCustomer creates a provider customer and returns its id.
	CreateCustomer(ctx context.Context, params CustomerParams) (string, error)

	// CreateSubscription returns a hosted checkout link. It never changes local
	// state; the subscription becomes real when the checkout webhook arrives.
	CreateSubscription(ctx context.Context, params CheckoutParams) (*CheckoutLink, error)

	// CreatePayment returns a hosted checkout link for a one-time purchase.
	CreatePayment(ctx context.Context, params CheckoutParams) (*CheckoutLink, error)

	// CancelSubscription asks the provider to cancel. With atPeriodEnd the
	// subscription keeps running until the paid period is over.
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) error

	// GetSubscription fetches the live subscription, e.g. for its pricing.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	// GetInvoice fetches an invoice whose webhook payload lacked the
	// subscription id. The returned ref is never RecoverableSubscription.
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)

	// CreateProduct and CreatePrice seed the provider catalog. They return
	// ErrUnsupported where the provider has no such API.
	CreateProduct(ctx context.Context, params ProductParams) (string, error)
	CreatePrice(ctx context.Context, params PriceParams) (string, error)

	// VerifyWebhook checks the signature over the raw body bytes.
	// It returns ErrMissingSignature or ErrInvalidSignature.
	VerifyWebhook(ctx context.Context, payload []byte, header http.Header) error

	// ParseEvent decodes a verified body. Unhandled event types come back
	// with a nil Payload; malformed bodies return ErrMalformedPayload.
	ParseEvent(payload []byte) (*Event, error)
}

// CustomerParams describes a provider customer to create.
type CustomerParams struct {
	UserID string
	Email  string
}

// CheckoutParams contains data needed to create a checkout session.
type CheckoutParams struct {
	PriceID    string // Provider's price identifier
	UserID     string // Internal user id, echoed back in metadata
	CustomerID string // Provider customer id, optional
	Email      string // Optional billing email
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// CheckoutLink represents a hosted checkout session.
type CheckoutLink struct {
	URL       string    `json:"url"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// ProductParams describes a catalog product. PlanID is stored in the
// product metadata.
type ProductParams struct {
	Name        string
	Description string
	PlanID      PlanID
}

// PriceParams describes a price for a product. A recurring Interval makes
// it a subscription price; any other value makes it a one-time price.
type PriceParams struct {
	ProductID string
	Amount    Money
	Interval  Interval
	PlanID    PlanID
}

// Subscription is the provider's authoritative view of a subscription.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	PriceID           string
	Pricing           Pricing
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  time.Time
	Metadata          map[string]string
}

// Active reports whether the provider considers the subscription paid up.
func (s Subscription) Active() bool {
	return s.Status == StatusActive
}

// StatusActive is the only subscription status that allows plan changes.
const StatusActive = "active"
