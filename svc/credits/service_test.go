package credits_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pixelcredits/pkg/billing"
	"github.com/dmitrymomot/pixelcredits/svc/credits"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, opts ...credits.ServiceOption) (credits.Service, *credits.MemoryStore) {
	t.Helper()
	store := credits.NewMemoryStore()
	opts = append([]credits.ServiceOption{credits.WithClock(func() time.Time { return fixedNow })}, opts...)
	return credits.NewService(store, opts...), store
}

// seedUser stores a user with the given balances and no ledger history.
func seedUser(t *testing.T, store *credits.MemoryStore, monthly, purchased int64) *credits.User {
	t.Helper()
	u := &credits.User{
		ID:               uuid.New(),
		Email:            uuid.NewString() + "@example.com",
		CurrentPlan:      billing.PlanStarter,
		MonthlyCredits:   monthly,
		PurchasedCredits: purchased,
	}
	require.NoError(t, store.CreateUser(context.Background(), u))
	return u
}

func TestNewService_PanicsWithoutStore(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { credits.NewService(nil) })
}

func TestCreateUser(t *testing.T) {
	t.Parallel()
	svc, store := newService(t, credits.WithWelcomeCredits(25))
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, "  Alice@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, billing.PlanFree, u.CurrentPlan)
	assert.EqualValues(t, 25, u.MonthlyCredits)

	entries, err := store.ListLedger(ctx, u.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, credits.EntryBonus, entries[0].Type)
	assert.Equal(t, credits.SignupBonusSource, entries[0].Source)
	assert.EqualValues(t, 25, entries[0].Amount)
	assert.EqualValues(t, 25, entries[0].Remaining)

	_, err = svc.CreateUser(ctx, "alice@example.com")
	assert.ErrorIs(t, err, credits.ErrEmailTaken)

	_, err = svc.CreateUser(ctx, "not-an-email")
	assert.ErrorIs(t, err, credits.ErrInvalidEmail)
}

func TestDeduct_ConsumptionPriority(t *testing.T) {
	t.Parallel()
	svc, store := newService(t)
	ctx := context.Background()
	u := seedUser(t, store, 5, 10)

	bal, err := svc.Deduct(ctx, u.ID, 8, "render")
	require.NoError(t, err)
	assert.EqualValues(t, 0, bal.Monthly)
	assert.EqualValues(t, 7, bal.Purchased)
	assert.EqualValues(t, 7, bal.Total)

	entries, err := store.ListLedger(ctx, u.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, credits.EntryUsage, entries[0].Type)
	assert.EqualValues(t, -8, entries[0].Amount)
	assert.EqualValues(t, 7, entries[0].Remaining)
	assert.Equal(t, "render", entries[0].Description)
}

func TestDeduct_NoPartialDeduction(t *testing.T) {
	t.Parallel()
	svc, store := newService(t)
	ctx := context.Background()
	u := seedUser(t, store, 3, 4)

	_, err := svc.Deduct(ctx, u.ID, 8, "too much")
	require.Error(t, err)
	assert.ErrorIs(t, err, credits.ErrInsufficientCredits)

	var ie *credits.InsufficientCreditsError
	require.ErrorAs(t, err, &ie)
	assert.EqualValues(t, 8, ie.Required)
	assert.EqualValues(t, 7, ie.Available)

	got, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.MonthlyCredits)
	assert.EqualValues(t, 4, got.PurchasedCredits)

	entries, err := store.ListLedger(ctx, u.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeduct_InvalidInput(t *testing.T) {
	t.Parallel()
	svc, store := newService(t)
	u := seedUser(t, store, 1, 0)

	_, err := svc.Deduct(context.Background(), u.ID, 0, "zero")
	assert.ErrorIs(t, err, credits.ErrInvalidAmount)
	_, err = svc.Deduct(context.Background(), u.ID, -3, "negative")
	assert.ErrorIs(t, err, credits.ErrInvalidAmount)
	_, err = svc.Deduct(context.Background(), uuid.New(), 1, "ghost")
	assert.ErrorIs(t, err, credits.ErrUserNotFound)
}

func TestBalancesStayNonNegative(t *testing.T) {
	t.Parallel()
	svc, store := newService(t)
	ctx := context.Background()
	u := seedUser(t, store, 4, 6)

	ops := []struct {
		add    bool
		amount int64
		bucket credits.Bucket
	}{
		{amount: 3}, {amount: 9}, {add: true, amount: 2, bucket: credits.BucketMonthly},
		{amount: 5}, {amount: 1}, {add: true, amount: 7, bucket: credits.BucketPurchased},
		{amount: 20}, {amount: 8}, {amount: 1},
	}
	for _, op := range ops {
		if op.add {
			_, err := svc.Add(ctx, u.ID, op.amount, op.bucket, "top up")
			require.NoError(t, err)
		} else {
			_, err := svc.Deduct(ctx, u.ID, op.amount, "spend")
			if err != nil {
				require.ErrorIs(t, err, credits.ErrInsufficientCredits)
			}
		}
		got, err := store.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got.MonthlyCredits, int64(0))
		assert.GreaterOrEqual(t, got.PurchasedCredits, int64(0))
	}
}

func TestDeduct_Concurrent(t *testing.T) {
	t.Parallel()
	svc, store := newService(t)
	ctx := context.Background()
	u := seedUser(t, store, 10, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Deduct(ctx, u.ID, 1, "parallel"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, succeeded)
	bal, err := svc.Balance(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, bal.Total)
}

func TestAdd(t *testing.T) {
	t.Parallel()
	svc, store := newService(t)
	ctx := context.Background()
	u := seedUser(t, store, 1, 2)

	bal, err := svc.Add(ctx, u.ID, 10, credits.BucketMonthly, "manual")
	require.NoError(t, err)
	assert.EqualValues(t, 11, bal.Monthly)

	bal, err = svc.Add(ctx, u.ID, 5, credits.BucketPurchased, "manual")
	require.NoError(t, err)
	assert.EqualValues(t, 7, bal.Purchased)
	assert.EqualValues(t, 18, bal.Total)

	entries, err := store.ListLedger(ctx, u.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, credits.EntryOneTimePurchase, entries[0].Type)
	assert.Equal(t, credits.EntryMonthlyReset, entries[1].Type)
	assert.EqualValues(t, 18, entries[0].Remaining)

	_, err = svc.Add(ctx, u.ID, 5, "bonus", "bad bucket")
	assert.ErrorIs(t, err, credits.ErrInvalidBucket)
	_, err = svc.Add(ctx, u.ID, 0, credits.BucketMonthly, "zero")
	assert.ErrorIs(t, err, credits.ErrInvalidAmount)
}

func TestAdd_RejectsOverflow(t *testing.T) {
	t.Parallel()
	svc, store := newService(t)
	ctx := context.Background()
	u := seedUser(t, store, 0, 0)

	_, err := svc.Add(ctx, u.ID, 1<<62, credits.BucketPurchased, "first")
	require.NoError(t, err)
	_, err = svc.Add(ctx, u.ID, 1<<62, credits.BucketPurchased, "second")
	require.ErrorIs(t, err, credits.ErrInvalidAmount)
	_, err = svc.Add(ctx, u.ID, math.MaxInt64, credits.BucketMonthly, "third")
	require.ErrorIs(t, err, credits.ErrInvalidAmount)

	bal, err := svc.Balance(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, int64(1<<62), bal.Purchased)
	assert.Zero(t, bal.Monthly)
	assert.EqualValues(t, int64(1<<62), bal.Total)

	entries, err := store.ListLedger(ctx, u.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// A set grant only competes with the other bucket.
	got, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	_, err = svc.ApplyGrant(ctx, got, credits.Grant{
		Type: credits.EntryInitialGrant, Bucket: credits.BucketPurchased, Mode: credits.GrantSet, Amount: math.MaxInt64,
	})
	require.NoError(t, err)
}

func TestReserveAndRelease(t *testing.T) {
	t.Parallel()
	svc, store := newService(t)
	ctx := context.Background()
	u := seedUser(t, store, 2, 5)

	r, err := svc.Reserve(ctx, u.ID, 4, "image")
	require.NoError(t, err)
	assert.EqualValues(t, 2, r.Monthly)
	assert.EqualValues(t, 2, r.Purchased)

	bal, err := svc.Balance(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, bal.Total)

	bal, err = svc.Release(ctx, r, "generation failed")
	require.NoError(t, err)
	assert.EqualValues(t, 2, bal.Monthly)
	assert.EqualValues(t, 5, bal.Purchased)

	bal, err = svc.Release(ctx, r, "again")
	require.NoError(t, err)
	assert.EqualValues(t, 7, bal.Total)

	entries, err := store.ListLedger(ctx, u.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, credits.EntryRefund, entries[0].Type)
	assert.EqualValues(t, 4, entries[0].Amount)
	assert.EqualValues(t, 7, entries[0].Remaining)

	_, err = svc.Release(ctx, nil, "nil")
	assert.ErrorIs(t, err, credits.ErrInvalidReservation)

	_, err = svc.Reserve(ctx, u.ID, 100, "too much")
	assert.ErrorIs(t, err, credits.ErrInsufficientCredits)
}

func TestApplyGrant(t *testing.T) {
	t.Parallel()
	svc, store := newService(t)
	ctx := context.Background()
	u := seedUser(t, store, 40, 3)
	reset := fixedNow.Add(30 * 24 * time.Hour)

	grant := credits.Grant{
		Type:      credits.EntryInitialGrant,
		Bucket:    credits.BucketMonthly,
		Mode:      credits.GrantSet,
		Amount:    500,
		Source:    "sub_1",
		ResetDate: &reset,
		Dedupe:    true,
	}
	u.CurrentPlan = billing.PlanPro

	applied, err := svc.ApplyGrant(ctx, u, grant)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.PlanPro, got.CurrentPlan)
	assert.EqualValues(t, 500, got.MonthlyCredits)
	assert.EqualValues(t, 3, got.PurchasedCredits)
	require.NotNil(t, got.CreditsResetDate)
	assert.Equal(t, reset, *got.CreditsResetDate)

	got.CancelAtPeriodEnd = true
	applied, err = svc.ApplyGrant(ctx, got, grant)
	require.NoError(t, err)
	assert.False(t, applied)

	again, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, again.CancelAtPeriodEnd, "caller changes are saved even when the grant is skipped")
	assert.EqualValues(t, 500, again.MonthlyCredits)

	entries, err := store.ListLedger(ctx, u.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	t.Parallel()
	svc, store := newService(t)
	ctx := context.Background()
	u := seedUser(t, store, 10, 0)

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(ctx context.Context) error {
		if _, err := svc.Deduct(ctx, u.ID, 4, "inside tx"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	bal, err := svc.Balance(ctx, u.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 10, bal.Total)
	entries, err := svc.History(ctx, u.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHistory_Pagination(t *testing.T) {
	t.Parallel()
	svc, store := newService(t)
	ctx := context.Background()
	u := seedUser(t, store, 10, 0)

	for range 5 {
		_, err := svc.Deduct(ctx, u.ID, 1, "spend")
		require.NoError(t, err)
	}

	page, err := svc.History(ctx, u.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.EqualValues(t, 5, page[0].Remaining)

	page, err = svc.History(ctx, u.ID, 2, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.EqualValues(t, 9, page[0].Remaining)

	_, err = svc.History(ctx, uuid.New(), 2, 0)
	assert.ErrorIs(t, err, credits.ErrUserNotFound)
}

func TestUser_Downgrade(t *testing.T) {
	t.Parallel()
	reset := fixedNow
	u := credits.User{
		CurrentPlan:       billing.PlanPro,
		MonthlyCredits:    300,
		PurchasedCredits:  40,
		SubscriptionID:    "sub_1",
		CustomerID:        "cus_1",
		CreditsResetDate:  &reset,
		CancelAtPeriodEnd: true,
	}
	u.SetPricing(billing.Pricing{Amount: 2999, Currency: "USD", Interval: billing.IntervalMonth})
	u.Downgrade()

	assert.Equal(t, billing.PlanFree, u.CurrentPlan)
	assert.Zero(t, u.MonthlyCredits)
	assert.EqualValues(t, 40, u.PurchasedCredits)
	assert.Empty(t, u.SubscriptionID)
	assert.Equal(t, "cus_1", u.CustomerID)
	assert.Nil(t, u.CreditsResetDate)
	assert.False(t, u.CancelAtPeriodEnd)
	assert.Zero(t, u.SubscriptionAmount)
}
