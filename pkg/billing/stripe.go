package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// ProviderStripe is the registry name of the Stripe provider.
const ProviderStripe = "stripe"

// StripeSignatureHeader carries the webhook signature.
const StripeSignatureHeader = "Stripe-Signature"

// StripeConfig holds configuration for the Stripe billing provider.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
}

// Enabled reports whether Stripe is configured.
func (c StripeConfig) Enabled() bool {
	return c.SecretKey != "" && c.WebhookSecret != ""
}

// StripeProvider implements Provider on stripe-go.
type StripeProvider struct {
	api    *client.API
	secret string
}

// StripeOption configures a StripeProvider.
type StripeOption func(*stripe.Backends)

// WithStripeBackendURL points every API call at url. Used for tests.
func WithStripeBackendURL(url string) StripeOption {
	return func(b *stripe.Backends) {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(url),
			MaxNetworkRetries: stripe.Int64(0),
		})
		b.API = backend
		b.Connect = backend
		b.Uploads = backend
	}
}

// NewStripeProvider creates a Stripe provider.
func NewStripeProvider(cfg StripeConfig, opts ...StripeOption) (*StripeProvider, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: stripe secret key is required", ErrInvalidConfig)
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: stripe webhook secret is required", ErrInvalidConfig)
	}

	var backends *stripe.Backends
	if len(opts) > 0 {
		backends = &stripe.Backends{}
		for _, opt := range opts {
			opt(backends)
		}
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, backends)

	return &StripeProvider{api: api, secret: cfg.WebhookSecret}, nil
}

// Name returns ProviderStripe.
func (p *StripeProvider) Name() string { return ProviderStripe }

// CreateCustomer creates a Stripe customer tagged with the user id.
func (p *StripeProvider) CreateCustomer(ctx context.Context, params CustomerParams) (string, error) {
	if params.Email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidParams)
	}
	cp := &stripe.CustomerParams{
		Email:    stripe.String(params.Email),
		Metadata: map[string]string{MetaUserID: params.UserID},
	}
	cp.Context = ctx
	c, err := p.api.Customers.New(cp)
	if err != nil {
		return "", errors.Join(ErrProviderAPI, err)
	}
	return c.ID, nil
}

// CreateSubscription creates a Checkout Session in subscription mode.
func (p *StripeProvider) CreateSubscription(ctx context.Context, params CheckoutParams) (*CheckoutLink, error) {
	return p.createCheckout(ctx, stripe.CheckoutSessionModeSubscription, params)
}

// CreatePayment creates a Checkout Session in payment mode.
func (p *StripeProvider) CreatePayment(ctx context.Context, params CheckoutParams) (*CheckoutLink, error) {
	return p.createCheckout(ctx, stripe.CheckoutSessionModePayment, params)
}

// createCheckout builds the session. Metadata is set on the session and, in
// subscription mode, copied onto the subscription, so later subscription
// events carry the user id as well. An existing customer is reused; without
// one Stripe creates a customer from the email.
func (p *StripeProvider) createCheckout(ctx context.Context, mode stripe.CheckoutSessionMode, params CheckoutParams) (*CheckoutLink, error) {
	if params.PriceID == "" {
		return nil, fmt.Errorf("%w: price id is required", ErrInvalidParams)
	}
	if params.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidParams)
	}

	meta := make(map[string]string, len(params.Metadata)+1)
	for k, v := range params.Metadata {
		meta[k] = v
	}
	meta[MetaUserID] = params.UserID

	sp := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(mode)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(params.PriceID), Quantity: stripe.Int64(1)},
		},
		ClientReferenceID: stripe.String(params.UserID),
		Metadata:          meta,
	}
	sp.Context = ctx
	if params.SuccessURL != "" {
		sp.SuccessURL = stripe.String(params.SuccessURL)
	}
	if params.CancelURL != "" {
		sp.CancelURL = stripe.String(params.CancelURL)
	}
	switch {
	case params.CustomerID != "":
		sp.Customer = stripe.String(params.CustomerID)
	case params.Email != "":
		sp.CustomerEmail = stripe.String(params.Email)
	}
	if mode == stripe.CheckoutSessionModeSubscription {
		sp.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{Metadata: meta}
	}

	sess, err := p.api.CheckoutSessions.New(sp)
	if err != nil {
		return nil, errors.Join(ErrProviderAPI, err)
	}

	return &CheckoutLink{
		URL:       sess.URL,
		SessionID: sess.ID,
		ExpiresAt: time.Unix(sess.ExpiresAt, 0).UTC(),
	}, nil
}

// CancelSubscription either flags the subscription to end with the current
// period or cancels it immediately.
func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) error {
	if subscriptionID == "" {
		return fmt.Errorf("%w: subscription id is required", ErrInvalidParams)
	}
	var err error
	if atPeriodEnd {
		sp := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
		sp.Context = ctx
		_, err = p.api.Subscriptions.Update(subscriptionID, sp)
	} else {
		cp := &stripe.SubscriptionCancelParams{}
		cp.Context = ctx
		_, err = p.api.Subscriptions.Cancel(subscriptionID, cp)
	}
	if err != nil {
		return errors.Join(ErrProviderAPI, err)
	}
	return nil
}

// GetSubscription decodes the raw API response with the same structs used for
// webhook payloads so both paths agree on field layout.
func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	sp := &stripe.SubscriptionParams{}
	sp.Context = ctx
	s, err := p.api.Subscriptions.Get(subscriptionID, sp)
	if err != nil {
		return nil, errors.Join(ErrProviderAPI, err)
	}
	raw, err := rawResponse(s.LastResponse, s)
	if err != nil {
		return nil, err
	}
	var payload stripeSubscription
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.Join(ErrProviderAPI, err)
	}
	sub := payload.toSubscription()
	return &sub, nil
}

// GetInvoice fetches an invoice for the fallback subscription lookup.
func (p *StripeProvider) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	ip := &stripe.InvoiceParams{}
	ip.Context = ctx
	inv, err := p.api.Invoices.Get(invoiceID, ip)
	if err != nil {
		return nil, errors.Join(ErrProviderAPI, err)
	}
	raw, err := rawResponse(inv.LastResponse, inv)
	if err != nil {
		return nil, err
	}
	var payload stripeInvoice
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.Join(ErrProviderAPI, err)
	}
	out := payload.toInvoice()
	// A fetched invoice without a subscription cannot be recovered further.
	if _, ok := out.Subscription.(RecoverableSubscription); ok {
		out.Subscription = UnresolvableSubscription{}
	}
	return &out, nil
}

// rawResponse returns the body Stripe sent, or a re-encoding of v when the
// SDK did not keep it.
func rawResponse(resp *stripe.APIResponse, v any) ([]byte, error) {
	if resp != nil && len(resp.RawJSON) > 0 {
		return resp.RawJSON, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Join(ErrProviderAPI, err)
	}
	return raw, nil
}

// CreateProduct creates a product tagged with the plan id.
func (p *StripeProvider) CreateProduct(ctx context.Context, params ProductParams) (string, error) {
	if params.Name == "" {
		return "", fmt.Errorf("%w: product name is required", ErrInvalidParams)
	}
	pp := &stripe.ProductParams{
		Name:     stripe.String(params.Name),
		Metadata: map[string]string{MetaPlan: string(params.PlanID)},
	}
	pp.Context = ctx
	if params.Description != "" {
		pp.Description = stripe.String(params.Description)
	}
	prod, err := p.api.Products.New(pp)
	if err != nil {
		return "", errors.Join(ErrProviderAPI, err)
	}
	return prod.ID, nil
}

// CreatePrice creates a price. Stripe expects lowercase currency codes.
func (p *StripeProvider) CreatePrice(ctx context.Context, params PriceParams) (string, error) {
	if params.ProductID == "" || params.Amount.Amount <= 0 {
		return "", fmt.Errorf("%w: product id and positive amount are required", ErrInvalidParams)
	}
	code, err := NormalizeCurrency(params.Amount.Currency)
	if err != nil {
		return "", err
	}
	pp := &stripe.PriceParams{
		Product:    stripe.String(params.ProductID),
		UnitAmount: stripe.Int64(params.Amount.Amount),
		Currency:   stripe.String(strings.ToLower(code)),
		Metadata:   map[string]string{MetaPlan: string(params.PlanID)},
	}
	pp.Context = ctx
	if params.Interval.Recurring() {
		pp.Recurring = &stripe.PriceRecurringParams{Interval: stripe.String(string(params.Interval))}
	}
	price, err := p.api.Prices.New(pp)
	if err != nil {
		return "", errors.Join(ErrProviderAPI, err)
	}
	return price.ID, nil
}

// VerifyWebhook checks the Stripe-Signature header, including its timestamp
// tolerance.
func (p *StripeProvider) VerifyWebhook(_ context.Context, payload []byte, header http.Header) error {
	sig := header.Get(StripeSignatureHeader)
	if sig == "" {
		return ErrMissingSignature
	}
	if err := webhook.ValidatePayload(payload, sig, p.secret); err != nil {
		return errors.Join(ErrInvalidSignature, err)
	}
	return nil
}

// ParseEvent maps Stripe events onto payloads. Both invoice.paid and
// invoice.payment_succeeded become PaymentSucceeded; the ledger dedupe on
// the invoice id keeps them from granting twice.
func (p *StripeProvider) ParseEvent(payload []byte) (*Event, error) {
	var se stripe.Event
	if err := json.Unmarshal(payload, &se); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	if se.ID == "" || se.Type == "" || se.Data == nil {
		return nil, fmt.Errorf("%w: missing id, type or data", ErrMalformedPayload)
	}

	ev := &Event{
		ID:       se.ID,
		Provider: ProviderStripe,
		Type:     string(se.Type),
		Created:  time.Unix(se.Created, 0).UTC(),
		Raw:      json.RawMessage(payload),
	}

	var err error
	switch se.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var s stripeCheckoutSession
		if err = json.Unmarshal(se.Data.Raw, &s); err == nil {
			ev.Payload = s.toPayload()
		}
	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentSucceeded:
		var inv stripeInvoice
		if err = json.Unmarshal(se.Data.Raw, &inv); err == nil {
			ev.Payload = PaymentSucceeded{Invoice: inv.toInvoice()}
		}
	case stripe.EventTypeInvoicePaymentFailed:
		var inv stripeInvoice
		if err = json.Unmarshal(se.Data.Raw, &inv); err == nil {
			ev.Payload = PaymentFailed{Invoice: inv.toInvoice()}
		}
	case stripe.EventTypeCustomerSubscriptionUpdated:
		var s stripeSubscription
		if err = json.Unmarshal(se.Data.Raw, &s); err == nil {
			ev.Payload = SubscriptionUpdated{Subscription: s.toSubscription()}
		}
	case stripe.EventTypeCustomerSubscriptionDeleted:
		var s stripeSubscription
		if err = json.Unmarshal(se.Data.Raw, &s); err == nil {
			ev.Payload = SubscriptionDeleted{Subscription: s.toSubscription()}
		}
	}
	if err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	return ev, nil
}
