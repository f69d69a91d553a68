package reconcile_test

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/pixelcredits/pkg/billing"
	"github.com/dmitrymomot/pixelcredits/svc/credits"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "stripe" }

func (m *mockProvider) CreateCustomer(ctx context.Context, params billing.CustomerParams) (string, error) {
	args := m.Called(ctx, params)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreateSubscription(ctx context.Context, params billing.CheckoutParams) (*billing.CheckoutLink, error) {
	args := m.Called(ctx, params)
	link, _ := args.Get(0).(*billing.CheckoutLink)
	return link, args.Error(1)
}

func (m *mockProvider) CreatePayment(ctx context.Context, params billing.CheckoutParams) (*billing.CheckoutLink, error) {
	args := m.Called(ctx, params)
	link, _ := args.Get(0).(*billing.CheckoutLink)
	return link, args.Error(1)
}

func (m *mockProvider) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) error {
	return m.Called(ctx, subscriptionID, atPeriodEnd).Error(0)
}

func (m *mockProvider) GetSubscription(ctx context.Context, subscriptionID string) (*billing.Subscription, error) {
	args := m.Called(ctx, subscriptionID)
	sub, _ := args.Get(0).(*billing.Subscription)
	return sub, args.Error(1)
}

func (m *mockProvider) GetInvoice(ctx context.Context, invoiceID string) (*billing.Invoice, error) {
	args := m.Called(ctx, invoiceID)
	inv, _ := args.Get(0).(*billing.Invoice)
	return inv, args.Error(1)
}

func (m *mockProvider) CreateProduct(ctx context.Context, params billing.ProductParams) (string, error) {
	args := m.Called(ctx, params)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreatePrice(ctx context.Context, params billing.PriceParams) (string, error) {
	args := m.Called(ctx, params)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) VerifyWebhook(ctx context.Context, payload []byte, header http.Header) error {
	return m.Called(ctx, payload, header).Error(0)
}

func (m *mockProvider) ParseEvent(payload []byte) (*billing.Event, error) {
	args := m.Called(payload)
	ev, _ := args.Get(0).(*billing.Event)
	return ev, args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) PlanActivated(ctx context.Context, user credits.User, plan billing.Plan) {
	m.Called(ctx, user, plan)
}

func (m *mockNotifier) CreditsPurchased(ctx context.Context, user credits.User, amount int64) {
	m.Called(ctx, user, amount)
}

func (m *mockNotifier) SubscriptionDowngraded(ctx context.Context, user credits.User, reason string) {
	m.Called(ctx, user, reason)
}
