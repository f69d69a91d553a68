package credits

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pixelcredits/pkg/billing"
)

// User is an account with its current entitlement snapshot.
// Monthly and purchased balances are independently non-negative.
type User struct {
	ID               uuid.UUID
	Email            string
	CurrentPlan      billing.PlanID
	MonthlyCredits   int64
	PurchasedCredits int64
	CreditsResetDate *time.Time

	// Billing linkage, written by the webhook handlers.
	BillingProvider string
	CustomerID      string
	SubscriptionID  string

	// Pricing snapshot for display only.
	SubscriptionAmount   int64
	SubscriptionCurrency string
	SubscriptionInterval billing.Interval
	CancelAtPeriodEnd    bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TotalCredits is the usable balance. Grants refuse to push it past
// math.MaxInt64, so the sum cannot overflow.
func (u User) TotalCredits() int64 {
	return u.MonthlyCredits + u.PurchasedCredits
}

// SetPricing stores a pricing snapshot.
func (u *User) SetPricing(p billing.Pricing) {
	u.SubscriptionAmount = p.Amount
	u.SubscriptionCurrency = p.Currency
	u.SubscriptionInterval = p.Interval
}

// Downgrade moves the user to the free plan. Purchased credits are kept.
func (u *User) Downgrade() {
	u.CurrentPlan = billing.PlanFree
	u.MonthlyCredits = 0
	u.SubscriptionID = ""
	u.CreditsResetDate = nil
	u.CancelAtPeriodEnd = false
	u.SetPricing(billing.Pricing{})
}

// EntryType classifies ledger entries.
type EntryType string

const (
	// EntryInitialGrant sets the monthly bucket when a plan starts or changes.
	EntryInitialGrant EntryType = "initial_grant"
	// EntryMonthlyReset sets the monthly bucket on renewal.
	EntryMonthlyReset EntryType = "monthly_reset"
	// EntryOneTimePurchase adds a credit pack to the purchased bucket.
	EntryOneTimePurchase EntryType = "one_time_purchase"
	// EntryUsage is a deduction; its amount is negative.
	EntryUsage EntryType = "usage"
	// EntryBonus is a grant not tied to a payment, e.g. the welcome credits.
	EntryBonus EntryType = "bonus"
	// EntryRefund returns a released reservation.
	EntryRefund EntryType = "refund"
)

// LedgerEntry is an immutable record of a credit change.
// Remaining is the user's total balance right after the change.
type LedgerEntry struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Type        EntryType
	Amount      int64
	Remaining   int64
	ResetDate   *time.Time
	Source      string
	Description string
	CreatedAt   time.Time
}

// Bucket selects one of the two balances.
type Bucket string

const (
	// BucketMonthly is reset by the plan every billing period.
	BucketMonthly Bucket = "monthly"
	// BucketPurchased holds credit packs and never expires.
	BucketPurchased Bucket = "purchased"
)

func (b Bucket) valid() bool {
	return b == BucketMonthly || b == BucketPurchased
}

// Balance is a read model of a user's credits.
type Balance struct {
	Plan      billing.PlanID `json:"plan"`
	Monthly   int64          `json:"monthly"`
	Purchased int64          `json:"purchased"`
	Total     int64          `json:"total"`
	ResetDate *time.Time     `json:"reset_date,omitempty"`
}

// balanceOf builds the read model from a user row.
func balanceOf(u *User) Balance {
	return Balance{
		Plan:      u.CurrentPlan,
		Monthly:   u.MonthlyCredits,
		Purchased: u.PurchasedCredits,
		Total:     u.TotalCredits(),
		ResetDate: u.CreditsResetDate,
	}
}

// Reservation is credits taken ahead of paid work. Release returns them to
// the buckets they came from.
type Reservation struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Monthly     int64
	Purchased   int64
	Description string
	// Balance is the user's balance right after the reservation.
	Balance Balance
}

// Amount is the total reserved.
func (r Reservation) Amount() int64 {
	return r.Monthly + r.Purchased
}

// GrantMode says whether a grant adds to a balance or replaces it.
type GrantMode int

const (
	// GrantAdd adds Amount to the bucket.
	GrantAdd GrantMode = iota
	// GrantSet replaces the bucket with Amount. Unused monthly credits from
	// the previous period are dropped this way.
	GrantSet
)

// Grant is a credit change driven by billing.
type Grant struct {
	Type   EntryType
	Bucket Bucket
	Mode   GrantMode
	// Amount must be positive for GrantAdd and non-negative for GrantSet.
	Amount int64
	// Source is the provider object that caused the grant, such as an
	// invoice or payment id. It is the dedupe key together with Type.
	Source      string
	Description string
	// ResetDate, when set, becomes the user's next monthly reset date.
	ResetDate *time.Time
	// Dedupe skips the grant when an entry with the same type and source exists.
	Dedupe bool
}
