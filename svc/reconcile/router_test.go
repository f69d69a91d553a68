package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pixelcredits/pkg/billing"
	"github.com/dmitrymomot/pixelcredits/svc/credits"
	"github.com/dmitrymomot/pixelcredits/svc/reconcile"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *credits.MemoryStore
	ledger   credits.Service
	provider *mockProvider
	notifier *mockNotifier
	router   *reconcile.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := credits.NewMemoryStore()
	clock := func() time.Time { return now }
	ledger := credits.NewService(store, credits.WithClock(clock))
	provider := &mockProvider{}
	notifier := &mockNotifier{}
	notifier.On("PlanActivated", mock.Anything, mock.Anything, mock.Anything).Maybe()
	notifier.On("CreditsPurchased", mock.Anything, mock.Anything, mock.Anything).Maybe()
	notifier.On("SubscriptionDowngraded", mock.Anything, mock.Anything, mock.Anything).Maybe()

	registry, err := billing.NewRegistry(provider)
	require.NoError(t, err)

	router := reconcile.NewRouter(store, ledger, billing.DefaultCatalog(), registry,
		reconcile.WithNotifier(notifier), reconcile.WithClock(clock))
	return &fixture{store: store, ledger: ledger, provider: provider, notifier: notifier, router: router}
}

func (f *fixture) user(t *testing.T, mutate func(u *credits.User)) *credits.User {
	t.Helper()
	u := &credits.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", CurrentPlan: billing.PlanFree}
	if mutate != nil {
		mutate(u)
	}
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *credits.User {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (f *fixture) ledgerOf(t *testing.T, id uuid.UUID) []credits.LedgerEntry {
	t.Helper()
	entries, err := f.store.ListLedger(context.Background(), id, 100, 0)
	require.NoError(t, err)
	return entries
}

func (f *fixture) dispatch(t *testing.T, payload billing.Payload) *reconcile.Result {
	t.Helper()
	res, err := f.router.Dispatch(context.Background(), &billing.Event{
		ID: "evt_" + uuid.NewString(), Provider: "stripe", Type: "test", Payload: payload,
	})
	require.NoError(t, err)
	res.AfterCommit(context.Background())
	return res
}

func proSubscription(id string) *billing.Subscription {
	return &billing.Subscription{
		ID:         id,
		CustomerID: "cus_1",
		Status:     billing.StatusActive,
		PriceID:    "price_pro_monthly",
		Pricing:    billing.Pricing{Amount: 2599, Currency: "USD", Interval: billing.IntervalMonth},
	}
}

func TestNewRouter_PanicsOnMissingDeps(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { reconcile.NewRouter(nil, nil, nil, nil) })
}

func TestDispatch_IgnoredEvent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	res, err := f.router.Dispatch(context.Background(), &billing.Event{ID: "evt_1", Provider: "stripe", Type: "customer.created"})
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeIgnored, res.Outcome)
}

func TestDispatch_UnknownProvider(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.router.Dispatch(context.Background(), &billing.Event{
		ID: "evt_1", Provider: "paddle", Payload: billing.SubscriptionDeleted{},
	})
	assert.ErrorIs(t, err, billing.ErrUnknownProvider)
}

func TestCreditsPackPurchase(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.user(t, func(u *credits.User) { u.PurchasedCredits = 5 })

	checkout := billing.CheckoutCompleted{
		SessionID:  "cs_1",
		Mode:       billing.CheckoutModePayment,
		CustomerID: "cus_1",
		PaymentRef: "pi_1",
		Metadata: map[string]string{
			billing.MetaUserID:  u.ID.String(),
			billing.MetaType:    billing.PurchaseTypeCredits,
			billing.MetaCredits: "1000",
		},
	}
	res := f.dispatch(t, checkout)
	assert.Equal(t, reconcile.OutcomeApplied, res.Outcome)

	got := f.reload(t, u.ID)
	assert.EqualValues(t, 1005, got.PurchasedCredits)
	assert.Equal(t, "cus_1", got.CustomerID)

	entries := f.ledgerOf(t, u.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, credits.EntryOneTimePurchase, entries[0].Type)
	assert.Equal(t, "pi_1", entries[0].Source)
	assert.EqualValues(t, 1000, entries[0].Amount)
	assert.EqualValues(t, got.TotalCredits(), entries[0].Remaining)
	f.notifier.AssertCalled(t, "CreditsPurchased", mock.Anything, mock.Anything, int64(1000))

	// A second event for the same payment is a no-op.
	res = f.dispatch(t, checkout)
	assert.Equal(t, reconcile.OutcomeSkipped, res.Outcome)
	assert.EqualValues(t, 1005, f.reload(t, u.ID).PurchasedCredits)
	assert.Len(t, f.ledgerOf(t, u.ID), 1)
}

func TestCheckout_UnknownUserIsUnresolved(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.dispatch(t, billing.CheckoutCompleted{
		Mode:     billing.CheckoutModePayment,
		Metadata: map[string]string{billing.MetaUserID: uuid.NewString(), billing.MetaType: billing.PurchaseTypeCredits},
	})
	assert.Equal(t, reconcile.OutcomeUnresolved, res.Outcome)

	res = f.dispatch(t, billing.CheckoutCompleted{Mode: billing.CheckoutModePayment, ClientReferenceID: "not-a-uuid"})
	assert.Equal(t, reconcile.OutcomeUnresolved, res.Outcome)
}

func TestSubscriptionCheckout(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.user(t, func(u *credits.User) { u.MonthlyCredits = 10; u.PurchasedCredits = 3 })
	f.provider.On("GetSubscription", mock.Anything, "sub_1").Return(proSubscription("sub_1"), nil).Once()

	res := f.dispatch(t, billing.CheckoutCompleted{
		SessionID:         "cs_1",
		Mode:              billing.CheckoutModeSubscription,
		CustomerID:        "cus_1",
		SubscriptionID:    "sub_1",
		ClientReferenceID: u.ID.String(),
		Metadata:          map[string]string{billing.MetaPlan: "pro"},
	})
	assert.Equal(t, reconcile.OutcomeApplied, res.Outcome)

	got := f.reload(t, u.ID)
	assert.Equal(t, billing.PlanPro, got.CurrentPlan)
	assert.Equal(t, "sub_1", got.SubscriptionID)
	assert.Equal(t, "cus_1", got.CustomerID)
	assert.Equal(t, "stripe", got.BillingProvider)
	assert.EqualValues(t, 500, got.MonthlyCredits)
	assert.EqualValues(t, 3, got.PurchasedCredits)
	assert.EqualValues(t, 2599, got.SubscriptionAmount, "live pricing wins over the catalog")
	require.NotNil(t, got.CreditsResetDate)
	assert.Equal(t, now.Add(30*24*time.Hour), *got.CreditsResetDate)

	entries := f.ledgerOf(t, u.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, credits.EntryInitialGrant, entries[0].Type)
	assert.Equal(t, "sub_1", entries[0].Source)
	f.provider.AssertExpectations(t)
	f.notifier.AssertCalled(t, "PlanActivated", mock.Anything, mock.Anything, mock.MatchedBy(func(p billing.Plan) bool {
		return p.ID == billing.PlanPro
	}))
}

func TestSubscriptionCheckout_FallbackPricing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.user(t, nil)
	f.provider.On("GetSubscription", mock.Anything, "sub_2").Return(nil, errors.New("stripe down"))

	res := f.dispatch(t, billing.CheckoutCompleted{
		Mode:           billing.CheckoutModeSubscription,
		SubscriptionID: "sub_2",
		CustomerID:     "cus_2",
		Metadata:       map[string]string{billing.MetaUserID: u.ID.String(), billing.MetaPlan: "starter"},
	})
	assert.Equal(t, reconcile.OutcomeApplied, res.Outcome)

	got := f.reload(t, u.ID)
	assert.Equal(t, billing.PlanStarter, got.CurrentPlan)
	assert.EqualValues(t, 100, got.MonthlyCredits)
	assert.EqualValues(t, 999, got.SubscriptionAmount)
	assert.Equal(t, "USD", got.SubscriptionCurrency)
	assert.Equal(t, billing.IntervalMonth, got.SubscriptionInterval)
}

func TestSubscriptionCheckout_UnknownPlan(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.user(t, nil)
	_, err := f.router.Dispatch(context.Background(), &billing.Event{
		ID: "evt_x", Provider: "stripe",
		Payload: billing.CheckoutCompleted{
			Mode:     billing.CheckoutModeSubscription,
			Metadata: map[string]string{billing.MetaUserID: u.ID.String(), billing.MetaPlan: "enterprise"},
		},
	})
	assert.ErrorIs(t, err, reconcile.ErrUnknownPlan)
}

func TestSubscriptionCreateInvoiceDoesNotDoubleGrant(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.user(t, nil)
	f.provider.On("GetSubscription", mock.Anything, "sub_1").Return(proSubscription("sub_1"), nil)

	f.dispatch(t, billing.CheckoutCompleted{
		Mode: billing.CheckoutModeSubscription, SubscriptionID: "sub_1", CustomerID: "cus_1",
		Metadata: map[string]string{billing.MetaUserID: u.ID.String(), billing.MetaPlan: "pro"},
	})

	// Spend some credits between checkout and the first invoice webhook.
	_, err := f.ledger.Deduct(context.Background(), u.ID, 20, "render")
	require.NoError(t, err)

	res := f.dispatch(t, billing.PaymentSucceeded{Invoice: billing.Invoice{
		ID:            "in_1",
		CustomerID:    "cus_1",
		Subscription:  billing.KnownSubscription{ID: "sub_1"},
		BillingReason: billing.BillingReasonSubscriptionCreate,
		PeriodEnd:     now.Add(31 * 24 * time.Hour),
	}})
	assert.Equal(t, reconcile.OutcomeSkipped, res.Outcome)

	got := f.reload(t, u.ID)
	assert.EqualValues(t, 480, got.MonthlyCredits)

	grants := 0
	for _, e := range f.ledgerOf(t, u.ID) {
		if e.Type == credits.EntryInitialGrant || e.Type == credits.EntryMonthlyReset {
			grants++
		}
	}
	assert.Equal(t, 1, grants)
}

func TestPaymentSucceeded_ResetsMonthlyCredits(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.user(t, func(u *credits.User) {
		u.CurrentPlan = billing.PlanStarter
		u.SubscriptionID = "sub_1"
		u.MonthlyCredits = 7
		u.PurchasedCredits = 50
	})
	periodEnd := now.Add(31 * 24 * time.Hour)
	inv := billing.Invoice{
		ID:            "in_2",
		Subscription:  billing.KnownSubscription{ID: "sub_1"},
		BillingReason: "subscription_cycle",
		PeriodEnd:     periodEnd,
	}

	res := f.dispatch(t, billing.PaymentSucceeded{Invoice: inv})
	assert.Equal(t, reconcile.OutcomeApplied, res.Outcome)

	got := f.reload(t, u.ID)
	assert.EqualValues(t, 100, got.MonthlyCredits)
	assert.EqualValues(t, 50, got.PurchasedCredits)
	require.NotNil(t, got.CreditsResetDate)
	assert.Equal(t, periodEnd, *got.CreditsResetDate)

	entries := f.ledgerOf(t, u.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, credits.EntryMonthlyReset, entries[0].Type)
	assert.Equal(t, "in_2", entries[0].Source)
	assert.EqualValues(t, 150, entries[0].Remaining)

	// invoice.paid and invoice.payment_succeeded both arrive for one invoice.
	res = f.dispatch(t, billing.PaymentSucceeded{Invoice: inv})
	assert.Equal(t, reconcile.OutcomeSkipped, res.Outcome)
	assert.Len(t, f.ledgerOf(t, u.ID), 1)
}

func TestPaymentSucceeded_CustomerFallbackBackfills(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.user(t, func(u *credits.User) {
		u.CurrentPlan = billing.PlanPro
		u.CustomerID = "cus_9"
	})
	f.provider.On("GetInvoice", mock.Anything, "in_9").Return(&billing.Invoice{
		ID:           "in_9",
		CustomerID:   "cus_9",
		Subscription: billing.KnownSubscription{ID: "sub_9"},
	}, nil).Once()

	res := f.dispatch(t, billing.PaymentSucceeded{Invoice: billing.Invoice{
		ID:            "in_9",
		CustomerID:    "cus_9",
		Subscription:  billing.RecoverableSubscription{InvoiceID: "in_9"},
		BillingReason: "subscription_cycle",
	}})
	assert.Equal(t, reconcile.OutcomeApplied, res.Outcome)

	got := f.reload(t, u.ID)
	assert.Equal(t, "sub_9", got.SubscriptionID)
	assert.EqualValues(t, 500, got.MonthlyCredits)
	require.NotNil(t, got.CreditsResetDate)
	assert.Equal(t, now.Add(30*24*time.Hour), *got.CreditsResetDate)
	f.provider.AssertExpectations(t)
}

func TestPaymentSucceeded_CustomerFallbackWithoutSubscriptionID(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.user(t, func(u *credits.User) {
		u.CurrentPlan = billing.PlanStarter
		u.CustomerID = "cus_3"
	})

	res := f.dispatch(t, billing.PaymentSucceeded{Invoice: billing.Invoice{
		ID: "in_3", CustomerID: "cus_3", Subscription: billing.UnresolvableSubscription{},
	}})
	assert.Equal(t, reconcile.OutcomeApplied, res.Outcome)
	got := f.reload(t, u.ID)
	assert.EqualValues(t, 100, got.MonthlyCredits)
	assert.Empty(t, got.SubscriptionID)
}

func TestPaymentSucceeded_InvoiceLookupFailureRetries(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.provider.On("GetInvoice", mock.Anything, "in_5").Return(nil, billing.ErrProviderAPI)

	_, err := f.router.Dispatch(context.Background(), &billing.Event{
		ID: "evt_5", Provider: "stripe",
		Payload: billing.PaymentSucceeded{Invoice: billing.Invoice{
			ID: "in_5", Subscription: billing.RecoverableSubscription{InvoiceID: "in_5"},
		}},
	})
	assert.ErrorIs(t, err, billing.ErrProviderAPI)
}

func TestPaymentSucceeded_NoUserIsDropped(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	res := f.dispatch(t, billing.PaymentSucceeded{Invoice: billing.Invoice{
		ID: "in_4", CustomerID: "cus_nobody", Subscription: billing.KnownSubscription{ID: "sub_nobody"},
	}})
	assert.Equal(t, reconcile.OutcomeUnresolved, res.Outcome)
}

func TestDowngradeConvergence(t *testing.T) {
	t.Parallel()

	payloads := map[string]billing.Payload{
		"third failed payment": billing.PaymentFailed{Invoice: billing.Invoice{
			ID: "in_f", Subscription: billing.KnownSubscription{ID: "sub_1"}, AttemptCount: 3,
		}},
		"subscription deleted": billing.SubscriptionDeleted{Subscription: billing.Subscription{ID: "sub_1", CustomerID: "cus_1"}},
	}

	for name, payload := range payloads {
		for _, plan := range []billing.PlanID{billing.PlanStarter, billing.PlanPro} {
			t.Run(name+"/"+string(plan), func(t *testing.T) {
				t.Parallel()
				f := newFixture(t)
				reset := now.Add(10 * 24 * time.Hour)
				u := f.user(t, func(u *credits.User) {
					u.CurrentPlan = plan
					u.SubscriptionID = "sub_1"
					u.CustomerID = "cus_1"
					u.MonthlyCredits = 80
					u.PurchasedCredits = 15
					u.CreditsResetDate = &reset
					u.CancelAtPeriodEnd = true
					u.SubscriptionAmount = 999
				})

				res := f.dispatch(t, payload)
				assert.Equal(t, reconcile.OutcomeApplied, res.Outcome)

				got := f.reload(t, u.ID)
				assert.Equal(t, billing.PlanFree, got.CurrentPlan)
				assert.Zero(t, got.MonthlyCredits)
				assert.Empty(t, got.SubscriptionID)
				assert.False(t, got.CancelAtPeriodEnd)
				assert.Nil(t, got.CreditsResetDate)
				assert.EqualValues(t, 15, got.PurchasedCredits)
				assert.Empty(t, f.ledgerOf(t, u.ID))
				f.notifier.AssertCalled(t, "SubscriptionDowngraded", mock.Anything, mock.Anything, mock.Anything)
			})
		}
	}
}

func TestPaymentFailed_BelowThreshold(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.user(t, func(u *credits.User) {
		u.CurrentPlan = billing.PlanPro
		u.SubscriptionID = "sub_1"
		u.MonthlyCredits = 80
	})

	res := f.dispatch(t, billing.PaymentFailed{Invoice: billing.Invoice{
		ID: "in_1", Subscription: billing.KnownSubscription{ID: "sub_1"}, AttemptCount: 2,
	}})
	assert.Equal(t, reconcile.OutcomeSkipped, res.Outcome)
	assert.Equal(t, billing.PlanPro, f.reload(t, u.ID).CurrentPlan)
}

func TestPaymentFailed_NoCustomerFallback(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.user(t, func(u *credits.User) {
		u.CurrentPlan = billing.PlanPro
		u.CustomerID = "cus_1"
	})

	res := f.dispatch(t, billing.PaymentFailed{Invoice: billing.Invoice{
		ID: "in_1", CustomerID: "cus_1", Subscription: billing.RecoverableSubscription{InvoiceID: "in_1"}, AttemptCount: 3,
	}})
	assert.Equal(t, reconcile.OutcomeSkipped, res.Outcome)

	res = f.dispatch(t, billing.PaymentFailed{Invoice: billing.Invoice{
		ID: "in_2", CustomerID: "cus_1", Subscription: billing.KnownSubscription{ID: "sub_unknown"}, AttemptCount: 3,
	}})
	assert.Equal(t, reconcile.OutcomeUnresolved, res.Outcome)
	assert.Equal(t, billing.PlanPro, f.reload(t, u.ID).CurrentPlan)
}

func TestSubscriptionUpdated_CancelToggleOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	reset := now.Add(12 * 24 * time.Hour)
	u := f.user(t, func(u *credits.User) {
		u.CurrentPlan = billing.PlanPro
		u.SubscriptionID = "sub_1"
		u.MonthlyCredits = 321
		u.CreditsResetDate = &reset
	})

	sub := *proSubscription("sub_1")
	sub.CancelAtPeriodEnd = true
	res := f.dispatch(t, billing.SubscriptionUpdated{Subscription: sub})
	assert.Equal(t, reconcile.OutcomeApplied, res.Outcome)

	got := f.reload(t, u.ID)
	assert.True(t, got.CancelAtPeriodEnd)
	assert.Equal(t, billing.PlanPro, got.CurrentPlan)
	assert.EqualValues(t, 321, got.MonthlyCredits)
	require.NotNil(t, got.CreditsResetDate)
	assert.Equal(t, reset, *got.CreditsResetDate)
	assert.Empty(t, f.ledgerOf(t, u.ID))

	sub.CancelAtPeriodEnd = false
	f.dispatch(t, billing.SubscriptionUpdated{Subscription: sub})
	assert.False(t, f.reload(t, u.ID).CancelAtPeriodEnd)
}

func TestSubscriptionUpdated_PlanChange(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.user(t, func(u *credits.User) {
		u.CurrentPlan = billing.PlanStarter
		u.SubscriptionID = "sub_1"
		u.MonthlyCredits = 12
	})
	sub := *proSubscription("sub_1")
	sub.CurrentPeriodEnd = now.Add(20 * 24 * time.Hour)

	res := f.dispatch(t, billing.SubscriptionUpdated{Subscription: sub})
	assert.Equal(t, reconcile.OutcomeApplied, res.Outcome)

	got := f.reload(t, u.ID)
	assert.Equal(t, billing.PlanPro, got.CurrentPlan)
	assert.EqualValues(t, 500, got.MonthlyCredits)
	assert.EqualValues(t, 2599, got.SubscriptionAmount)
	require.NotNil(t, got.CreditsResetDate)
	assert.Equal(t, sub.CurrentPeriodEnd, *got.CreditsResetDate)

	entries := f.ledgerOf(t, u.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, credits.EntryInitialGrant, entries[0].Type)
}

func TestSubscriptionUpdated_InactiveOrUnknownPriceKeepsPlan(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.user(t, func(u *credits.User) {
		u.CurrentPlan = billing.PlanStarter
		u.SubscriptionID = "sub_1"
		u.MonthlyCredits = 12
	})

	pastDue := *proSubscription("sub_1")
	pastDue.Status = "past_due"
	f.dispatch(t, billing.SubscriptionUpdated{Subscription: pastDue})
	assert.Equal(t, billing.PlanStarter, f.reload(t, u.ID).CurrentPlan)

	unknown := *proSubscription("sub_1")
	unknown.PriceID = "price_legacy"
	unknown.CancelAtPeriodEnd = true
	f.dispatch(t, billing.SubscriptionUpdated{Subscription: unknown})
	got := f.reload(t, u.ID)
	assert.Equal(t, billing.PlanStarter, got.CurrentPlan)
	assert.EqualValues(t, 12, got.MonthlyCredits)
	assert.True(t, got.CancelAtPeriodEnd)
}

func TestSubscriptionUpdated_CustomerFallback(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.user(t, func(u *credits.User) {
		u.CurrentPlan = billing.PlanPro
		u.CustomerID = "cus_1"
	})

	sub := *proSubscription("sub_new")
	sub.CancelAtPeriodEnd = true
	f.dispatch(t, billing.SubscriptionUpdated{Subscription: sub})

	got := f.reload(t, u.ID)
	assert.Equal(t, "sub_new", got.SubscriptionID)
	assert.True(t, got.CancelAtPeriodEnd)
}

func TestSubscriptionUpdated_StaleSubscriptionViaCustomer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.user(t, func(u *credits.User) {
		u.CurrentPlan = billing.PlanStarter
		u.CustomerID = "cus_1"
		u.SubscriptionID = "sub_new"
		u.CancelAtPeriodEnd = true
		u.MonthlyCredits = 200
	})

	res := f.dispatch(t, billing.SubscriptionUpdated{Subscription: *proSubscription("sub_old")})
	assert.Equal(t, reconcile.OutcomeUnresolved, res.Outcome)

	got := f.reload(t, u.ID)
	assert.Equal(t, billing.PlanStarter, got.CurrentPlan)
	assert.Equal(t, "sub_new", got.SubscriptionID)
	assert.True(t, got.CancelAtPeriodEnd)
	assert.EqualValues(t, 200, got.MonthlyCredits)
}

func TestSubscriptionDeleted_StaleSubscriptionViaCustomer(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.user(t, func(u *credits.User) {
		u.CurrentPlan = billing.PlanPro
		u.CustomerID = "cus_1"
		u.SubscriptionID = "sub_current"
		u.MonthlyCredits = 400
	})

	res := f.dispatch(t, billing.SubscriptionDeleted{Subscription: billing.Subscription{ID: "sub_old", CustomerID: "cus_1"}})
	assert.Equal(t, reconcile.OutcomeUnresolved, res.Outcome)

	got := f.reload(t, u.ID)
	assert.Equal(t, billing.PlanPro, got.CurrentPlan)
	assert.EqualValues(t, 400, got.MonthlyCredits)
}

func TestStateMachineScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.user(t, nil)
	f.provider.On("GetSubscription", mock.Anything, "sub_1").Return(proSubscription("sub_1"), nil)

	f.dispatch(t, billing.CheckoutCompleted{
		Mode: billing.CheckoutModeSubscription, SubscriptionID: "sub_1", CustomerID: "cus_1",
		Metadata: map[string]string{billing.MetaUserID: u.ID.String(), billing.MetaPlan: "starter"},
	})
	assert.Equal(t, billing.PlanStarter, f.reload(t, u.ID).CurrentPlan)

	f.dispatch(t, billing.SubscriptionUpdated{Subscription: *proSubscription("sub_1")})
	assert.Equal(t, billing.PlanPro, f.reload(t, u.ID).CurrentPlan)

	f.dispatch(t, billing.SubscriptionDeleted{Subscription: billing.Subscription{ID: "sub_1"}})
	got := f.reload(t, u.ID)
	assert.Equal(t, billing.PlanFree, got.CurrentPlan)
	assert.Zero(t, got.MonthlyCredits)
}
