package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pixelcredits/pkg/billing"
	"github.com/dmitrymomot/pixelcredits/pkg/logger"
)

// Service is the credit ledger. Every balance change goes through it so that
// the ledger stays complete.
type Service interface {
	// CreateUser registers a free user with the welcome grant. The email is
	// trimmed and lowercased before it is validated and stored.
	CreateUser(ctx context.Context, email string) (*User, error)
	// GetUser returns ErrUserNotFound for an unknown id.
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	// Balance reads both buckets and the plan.
	Balance(ctx context.Context, userID uuid.UUID) (Balance, error)
	// History lists ledger entries newest first. limit is clamped to
	// 1..100 with 50 as the default.
	History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]LedgerEntry, error)

	// Deduct spends monthly credits first, then purchased ones. It never
	// deducts partially; a shortfall returns *InsufficientCreditsError.
	Deduct(ctx context.Context, userID uuid.UUID, amount int64, description string) (Balance, error)
	// Add credits one bucket and writes a monthly_reset or one_time_purchase entry.
	Add(ctx context.Context, userID uuid.UUID, amount int64, bucket Bucket, description string) (Balance, error)

	// Reserve deducts like Deduct and remembers where the credits came from.
	Reserve(ctx context.Context, userID uuid.UUID, amount int64, description string) (*Reservation, error)
	// Release refunds a reservation. Releasing twice is a no-op.
	Release(ctx context.Context, r *Reservation, reason string) (Balance, error)

	// ApplyGrant applies g to user and persists the user, including any
	// changes the caller made before. It reports whether g was applied.
	ApplyGrant(ctx context.Context, user *User, g Grant) (bool, error)
}

// SignupBonusSource is the ledger source of the welcome grant.
const SignupBonusSource = "signup_bonus"

// service implements Service on top of a Store.
type service struct {
	store          Store
	log            *slog.Logger
	welcomeCredits int64
	now            func() time.Time
}

// ServiceOption configures the service.
type ServiceOption func(*service)

// WithWelcomeCredits sets the sign-up grant. Zero disables it.
func WithWelcomeCredits(n int64) ServiceOption {
	return func(s *service) { s.welcomeCredits = n }
}

// WithLogger sets the logger. Only user creation is logged here; balance
// changes are recorded in the ledger instead.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *service) { s.log = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) { s.now = now }
}

// NewService creates a Service on store. The welcome grant defaults to 10
// credits.
// Panics if store is nil.
func NewService(store Store, opts ...ServiceOption) Service {
	if store == nil {
		panic("credits: Store is required")
	}
	s := &service{
		store:          store,
		log:            logger.Discard(),
		welcomeCredits: 10,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateUser inserts the user and the welcome bonus in one transaction, so a
// user never exists without the grant.
func (s *service) CreateUser(ctx context.Context, email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}

	now := s.now().UTC()
	user := &User{
		ID:          uuid.New(),
		Email:       email,
		CurrentPlan: billing.PlanFree,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateUser(ctx, user); err != nil {
			return err
		}
		if s.welcomeCredits <= 0 {
			return nil
		}
		_, err := s.ApplyGrant(ctx, user, Grant{
			Type:        EntryBonus,
			Bucket:      BucketMonthly,
			Mode:        GrantAdd,
			Amount:      s.welcomeCredits,
			Source:      SignupBonusSource,
			Description: "Welcome bonus",
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "user created", logger.UserID(user.ID), logger.Credits("welcome_credits", s.welcomeCredits))
	return user, nil
}

// GetUser returns the stored user.
func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.store.GetUser(ctx, id)
}

// Balance returns the user's current balance without locking.
func (s *service) Balance(ctx context.Context, userID uuid.UUID) (Balance, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return balanceOf(u), nil
}

// History checks the user exists first, so an unknown user is an error
// rather than an empty page.
func (s *service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListLedger(ctx, userID, limit, offset)
}

// Deduct spends amount in one transaction.
func (s *service) Deduct(ctx context.Context, userID uuid.UUID, amount int64, description string) (Balance, error) {
	var bal Balance
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		u, _, _, err := s.spend(ctx, userID, amount, description, "")
		if err != nil {
			return err
		}
		bal = balanceOf(u)
		return nil
	})
	return bal, err
}

// spend drains monthly then purchased credits and writes the usage entry.
// It must run inside a transaction: the row lock taken by GetUserForUpdate
// is what keeps concurrent spends from both passing the balance check. It
// returns the updated user and how much came from each bucket.
func (s *service) spend(ctx context.Context, userID uuid.UUID, amount int64, description, source string) (*User, int64, int64, error) {
	if amount <= 0 {
		return nil, 0, 0, ErrInvalidAmount
	}

	u, err := s.store.GetUserForUpdate(ctx, userID)
	if err != nil {
		return nil, 0, 0, err
	}
	if total := u.TotalCredits(); total < amount {
		return nil, 0, 0, &InsufficientCreditsError{Required: amount, Available: total}
	}

	fromMonthly := min(amount, u.MonthlyCredits)
	fromPurchased := amount - fromMonthly
	u.MonthlyCredits -= fromMonthly
	u.PurchasedCredits -= fromPurchased
	u.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateUser(ctx, u); err != nil {
		return nil, 0, 0, err
	}
	if err := s.insertEntry(ctx, u, EntryUsage, -amount, source, description, nil); err != nil {
		return nil, 0, 0, err
	}
	return u, fromMonthly, fromPurchased, nil
}

// Add credits one bucket through ApplyGrant, so it shares the overflow
// guard with billing grants.
func (s *service) Add(ctx context.Context, userID uuid.UUID, amount int64, bucket Bucket, description string) (Balance, error) {
	if amount <= 0 {
		return Balance{}, ErrInvalidAmount
	}
	if !bucket.valid() {
		return Balance{}, fmt.Errorf("%w: %q", ErrInvalidBucket, bucket)
	}

	typ := EntryOneTimePurchase
	if bucket == BucketMonthly {
		typ = EntryMonthlyReset
	}

	var bal Balance
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		u, err := s.store.GetUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if _, err := s.ApplyGrant(ctx, u, Grant{
			Type:        typ,
			Bucket:      bucket,
			Mode:        GrantAdd,
			Amount:      amount,
			Description: description,
		}); err != nil {
			return err
		}
		bal = balanceOf(u)
		return nil
	})
	return bal, err
}

// Reserve spends amount under a reservation source, which Release later uses
// to find out whether the reservation was already refunded.
func (s *service) Reserve(ctx context.Context, userID uuid.UUID, amount int64, description string) (*Reservation, error) {
	r := &Reservation{ID: uuid.New(), UserID: userID, Description: description}
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		u, monthly, purchased, err := s.spend(ctx, userID, amount, description, reservationSource(r.ID))
		if err != nil {
			return err
		}
		r.Monthly, r.Purchased = monthly, purchased
		r.Balance = balanceOf(u)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Release refunds each bucket what was taken from it, so monthly credits do
// not turn into purchased ones. The refund entry is the release marker.
func (s *service) Release(ctx context.Context, r *Reservation, reason string) (Balance, error) {
	if r == nil || r.ID == uuid.Nil || r.Amount() <= 0 {
		return Balance{}, ErrInvalidReservation
	}

	var bal Balance
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		u, err := s.store.GetUserForUpdate(ctx, r.UserID)
		if err != nil {
			return err
		}
		source := reservationSource(r.ID)
		released, err := s.store.LedgerEntryExists(ctx, u.ID, EntryRefund, source)
		if err != nil {
			return err
		}
		if !released {
			u.MonthlyCredits += r.Monthly
			u.PurchasedCredits += r.Purchased
			u.UpdatedAt = s.now().UTC()
			if err := s.store.UpdateUser(ctx, u); err != nil {
				return err
			}
			if err := s.insertEntry(ctx, u, EntryRefund, r.Amount(), source, reason, nil); err != nil {
				return err
			}
		}
		bal = balanceOf(u)
		return nil
	})
	return bal, err
}

// reservationSource is the ledger source shared by a reservation's usage and
// refund entries.
func reservationSource(id uuid.UUID) string {
	return "reservation:" + id.String()
}

// ApplyGrant runs in its own transaction or joins the caller's. With Dedupe
// set, an existing entry of the same type and source skips the balance
// change but still saves the user, because callers bundle linkage updates
// with the grant.
func (s *service) ApplyGrant(ctx context.Context, user *User, g Grant) (bool, error) {
	if user == nil {
		return false, ErrUserNotFound
	}
	if g.Amount < 0 || (g.Amount == 0 && g.Mode == GrantAdd) {
		return false, ErrInvalidAmount
	}
	if !g.Bucket.valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidBucket, g.Bucket)
	}

	applied := false
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if g.Dedupe && g.Source != "" {
			exists, err := s.store.LedgerEntryExists(ctx, user.ID, g.Type, g.Source)
			if err != nil {
				return err
			}
			if exists {
				user.UpdatedAt = s.now().UTC()
				return s.store.UpdateUser(ctx, user)
			}
		}

		if g.overflows(user) {
			return fmt.Errorf("%w: balance would exceed %d", ErrInvalidAmount, int64(math.MaxInt64))
		}

		switch {
		case g.Bucket == BucketMonthly && g.Mode == GrantSet:
			user.MonthlyCredits = g.Amount
		case g.Bucket == BucketMonthly:
			user.MonthlyCredits += g.Amount
		case g.Mode == GrantSet:
			user.PurchasedCredits = g.Amount
		default:
			user.PurchasedCredits += g.Amount
		}
		if g.ResetDate != nil {
			rd := g.ResetDate.UTC()
			user.CreditsResetDate = &rd
		}
		user.UpdatedAt = s.now().UTC()

		if err := s.store.UpdateUser(ctx, user); err != nil {
			return err
		}
		if err := s.insertEntry(ctx, user, g.Type, g.Amount, g.Source, g.Description, g.ResetDate); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// overflows reports whether applying g would push the user's total past
// math.MaxInt64. A set grant replaces its bucket, so only the other bucket
// counts toward the headroom; an add grant stacks on the whole balance.
func (g Grant) overflows(u *User) bool {
	base := u.TotalCredits()
	if g.Mode == GrantSet {
		base = u.PurchasedCredits
		if g.Bucket == BucketPurchased {
			base = u.MonthlyCredits
		}
	}
	return g.Amount > math.MaxInt64-base
}

// insertEntry appends a ledger entry with Remaining taken from u after the
// change.
func (s *service) insertEntry(ctx context.Context, u *User, typ EntryType, amount int64, source, description string, resetDate *time.Time) error {
	entry := &LedgerEntry{
		ID:          uuid.New(),
		UserID:      u.ID,
		Type:        typ,
		Amount:      amount,
		Remaining:   u.TotalCredits(),
		ResetDate:   resetDate,
		Source:      source,
		Description: description,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.InsertLedgerEntry(ctx, entry); err != nil {
		return errors.Join(fmt.Errorf("credits: ledger insert for user %s", u.ID), err)
	}
	return nil
}
