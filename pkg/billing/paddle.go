package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// ProviderPaddle is the registry name of the Paddle provider.
const ProviderPaddle = "paddle"

// PaddleSignatureHeader carries the webhook signature.
const PaddleSignatureHeader = "Paddle-Signature"

// PaddleConfig holds configuration for Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// Enabled reports whether Paddle is configured.
func (c PaddleConfig) Enabled() bool {
	return c.APIKey != "" && c.WebhookSecret != ""
}

// PaddleProvider implements Provider for Paddle Billing.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
}

// NewPaddleProvider creates a new Paddle billing provider.
func NewPaddleProvider(config PaddleConfig) (*PaddleProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: paddle API key is required", ErrInvalidConfig)
	}
	if config.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: paddle webhook secret is required", ErrInvalidConfig)
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(config.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(config.APIKey)
	case "production", "":
		client, err = paddle.New(config.APIKey)
	default:
		return nil, fmt.Errorf("%w: invalid paddle environment %q", ErrInvalidConfig, config.Environment)
	}
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(config.WebhookSecret),
	}, nil
}

// Name returns ProviderPaddle.
func (p *PaddleProvider) Name() string { return ProviderPaddle }

// CreateCustomer creates a Paddle customer. Paddle rejects a second customer
// with the same email, so callers must store the returned id.
func (p *PaddleProvider) CreateCustomer(ctx context.Context, params CustomerParams) (string, error) {
	if params.Email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidParams)
	}
	c, err := p.client.CustomersClient.CreateCustomer(ctx, &paddle.CreateCustomerRequest{
		Email: params.Email,
	})
	if err != nil {
		return "", errors.Join(ErrProviderAPI, err)
	}
	return c.ID, nil
}

// CreateSubscription creates a Paddle transaction for a recurring price.
// Paddle creates the subscription when the transaction completes.
func (p *PaddleProvider) CreateSubscription(ctx context.Context, params CheckoutParams) (*CheckoutLink, error) {
	return p.createTransaction(ctx, params)
}

// CreatePayment creates a Paddle transaction for a one-time price. Paddle
// has no separate payment mode; the price decides.
func (p *PaddleProvider) CreatePayment(ctx context.Context, params CheckoutParams) (*CheckoutLink, error) {
	return p.createTransaction(ctx, params)
}

// createTransaction opens a checkout transaction. The user id travels in
// custom_data and comes back on the transaction.completed webhook. Paddle
// does not report a checkout expiry, so a day is assumed.
func (p *PaddleProvider) createTransaction(ctx context.Context, params CheckoutParams) (*CheckoutLink, error) {
	if params.PriceID == "" {
		return nil, fmt.Errorf("%w: price id is required", ErrInvalidParams)
	}
	if params.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidParams)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  params.PriceID,
		Quantity: 1,
	})

	customData := paddle.CustomData{MetaUserID: params.UserID}
	for k, v := range params.Metadata {
		customData[k] = v
	}

	req := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: customData,
	}
	if params.CustomerID != "" {
		req.CustomerID = paddle.PtrTo(params.CustomerID)
	}
	if params.SuccessURL != "" {
		req.Checkout = &paddle.TransactionCheckout{URL: paddle.PtrTo(params.SuccessURL)}
	}

	txn, err := p.client.TransactionsClient.CreateTransaction(ctx, req)
	if err != nil {
		return nil, errors.Join(ErrProviderAPI, err)
	}
	if txn.Checkout == nil || txn.Checkout.URL == nil {
		return nil, fmt.Errorf("%w: no checkout url returned", ErrProviderAPI)
	}

	return &CheckoutLink{
		URL:       *txn.Checkout.URL,
		SessionID: txn.ID,
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}, nil
}

// CancelSubscription schedules the cancellation for the next billing period
// or applies it immediately.
func (p *PaddleProvider) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) error {
	if subscriptionID == "" {
		return fmt.Errorf("%w: subscription id is required", ErrInvalidParams)
	}
	effective := paddle.EffectiveFromImmediately
	if atPeriodEnd {
		effective = paddle.EffectiveFromNextBillingPeriod
	}
	_, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: subscriptionID,
		EffectiveFrom:  paddle.PtrTo(effective),
	})
	if err != nil {
		return errors.Join(ErrProviderAPI, err)
	}
	return nil
}

// GetSubscription re-encodes the SDK response and decodes it with the webhook
// payload structs, so both paths agree on field layout.
func (p *PaddleProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	s, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: subscriptionID,
	})
	if err != nil {
		return nil, errors.Join(ErrProviderAPI, err)
	}
	var payload paddleSubscription
	if err := reencode(s, &payload); err != nil {
		return nil, err
	}
	sub := payload.toSubscription()
	return &sub, nil
}

// GetInvoice looks up the transaction that plays the invoice role in Paddle.
func (p *PaddleProvider) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	txn, err := p.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{
		TransactionID: invoiceID,
	})
	if err != nil {
		return nil, errors.Join(ErrProviderAPI, err)
	}
	var payload paddleTransaction
	if err := reencode(txn, &payload); err != nil {
		return nil, err
	}
	inv := payload.toInvoice()
	if _, ok := inv.Subscription.(RecoverableSubscription); ok {
		inv.Subscription = UnresolvableSubscription{}
	}
	return &inv, nil
}

// reencode converts an SDK value into a payload struct through JSON.
func reencode(in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return errors.Join(ErrProviderAPI, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Join(ErrProviderAPI, err)
	}
	return nil
}

// CreateProduct is not offered: the Paddle catalog is managed in its dashboard.
func (p *PaddleProvider) CreateProduct(context.Context, ProductParams) (string, error) {
	return "", fmt.Errorf("%w: paddle catalog is managed in the dashboard", ErrUnsupported)
}

// CreatePrice is not offered for the same reason as CreateProduct.
func (p *PaddleProvider) CreatePrice(context.Context, PriceParams) (string, error) {
	return "", fmt.Errorf("%w: paddle catalog is managed in the dashboard", ErrUnsupported)
}

// VerifyWebhook rebuilds a request around the raw body because the SDK
// verifier works on *http.Request.
func (p *PaddleProvider) VerifyWebhook(ctx context.Context, payload []byte, header http.Header) error {
	sig := header.Get(PaddleSignatureHeader)
	if sig == "" {
		return ErrMissingSignature
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhooks/paddle", bytes.NewReader(payload))
	if err != nil {
		return errors.Join(ErrInvalidSignature, err)
	}
	req.Header.Set(PaddleSignatureHeader, sig)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return errors.Join(ErrInvalidSignature, err)
	}
	if !valid {
		return ErrInvalidSignature
	}
	return nil
}

// ParseEvent maps Paddle events onto payloads. transaction.completed is a
// checkout when it carries our custom data and a payment otherwise;
// transaction.payment_failed becomes PaymentFailed.
func (p *PaddleProvider) ParseEvent(payload []byte) (*Event, error) {
	var env paddleEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	if env.EventID == "" || env.EventType == "" || len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: missing event_id, event_type or data", ErrMalformedPayload)
	}

	ev := &Event{
		ID:       env.EventID,
		Provider: ProviderPaddle,
		Type:     env.EventType,
		Created:  env.OccurredAt.UTC(),
		Raw:      json.RawMessage(payload),
	}

	var err error
	switch env.EventType {
	case "transaction.completed":
		var t paddleTransaction
		if err = json.Unmarshal(env.Data, &t); err == nil {
			if t.checkout() {
				ev.Payload = t.toCheckout()
			} else {
				ev.Payload = PaymentSucceeded{Invoice: t.toInvoice()}
			}
		}
	case "transaction.payment_failed":
		var t paddleTransaction
		if err = json.Unmarshal(env.Data, &t); err == nil {
			ev.Payload = PaymentFailed{Invoice: t.toInvoice()}
		}
	case "subscription.updated":
		var s paddleSubscription
		if err = json.Unmarshal(env.Data, &s); err == nil {
			ev.Payload = SubscriptionUpdated{Subscription: s.toSubscription()}
		}
	case "subscription.canceled":
		var s paddleSubscription
		if err = json.Unmarshal(env.Data, &s); err == nil {
			ev.Payload = SubscriptionDeleted{Subscription: s.toSubscription()}
		}
	}
	if err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}
	return ev, nil
}
