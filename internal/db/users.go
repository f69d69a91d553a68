package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/pixelcredits/pkg/billing"
	"github.com/dmitrymomot/pixelcredits/pkg/pg"
	"github.com/dmitrymomot/pixelcredits/svc/credits"
)

const userColumns = `id, email, current_plan, monthly_credits, purchased_credits, credits_reset_date,
	billing_provider, COALESCE(customer_id, ''), COALESCE(subscription_id, ''),
	subscription_amount, subscription_currency, subscription_interval, cancel_at_period_end,
	created_at, updated_at`

func scanUser(row pgx.Row) (*credits.User, error) {
	var (
		u        credits.User
		plan     string
		interval string
	)
	err := row.Scan(
		&u.ID, &u.Email, &plan, &u.MonthlyCredits, &u.PurchasedCredits, &u.CreditsResetDate,
		&u.BillingProvider, &u.CustomerID, &u.SubscriptionID,
		&u.SubscriptionAmount, &u.SubscriptionCurrency, &interval, &u.CancelAtPeriodEnd,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, credits.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.CurrentPlan = billing.PlanID(plan)
	u.SubscriptionInterval = billing.Interval(interval)
	return &u, nil
}

func (r *Repository) CreateUser(ctx context.Context, user *credits.User) error {
	const q = `INSERT INTO users (
		id, email, current_plan, monthly_credits, purchased_credits, credits_reset_date,
		billing_provider, customer_id, subscription_id,
		subscription_amount, subscription_currency, subscription_interval, cancel_at_period_end,
		created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11, $12, $13, $14, $15)`

	_, err := r.conn(ctx).Exec(ctx, q,
		user.ID, user.Email, string(user.CurrentPlan), user.MonthlyCredits, user.PurchasedCredits, user.CreditsResetDate,
		user.BillingProvider, user.CustomerID, user.SubscriptionID,
		user.SubscriptionAmount, user.SubscriptionCurrency, string(user.SubscriptionInterval), user.CancelAtPeriodEnd,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return credits.ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*credits.User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (r *Repository) GetUserForUpdate(ctx context.Context, id uuid.UUID) (*credits.User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

// FindUserBySubscriptionID picks the earliest user when the id is shared.
func (r *Repository) FindUserBySubscriptionID(ctx context.Context, subscriptionID string) (*credits.User, error) {
	if subscriptionID == "" {
		return nil, credits.ErrUserNotFound
	}
	return scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE subscription_id = $1 ORDER BY created_at, id LIMIT 1`,
		subscriptionID))
}

func (r *Repository) FindUserByCustomerID(ctx context.Context, customerID string) (*credits.User, error) {
	if customerID == "" {
		return nil, credits.ErrUserNotFound
	}
	return scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE customer_id = $1 ORDER BY created_at, id LIMIT 1`,
		customerID))
}

func (r *Repository) CountLinkage(ctx context.Context, subscriptionID, customerID string) (int, int, error) {
	const q = `SELECT
		COUNT(*) FILTER (WHERE $1 <> '' AND subscription_id = $1),
		COUNT(*) FILTER (WHERE $2 <> '' AND customer_id = $2)
	FROM users`

	var bySub, byCustomer int
	if err := r.conn(ctx).QueryRow(ctx, q, subscriptionID, customerID).Scan(&bySub, &byCustomer); err != nil {
		return 0, 0, fmt.Errorf("count linkage: %w", err)
	}
	return bySub, byCustomer, nil
}

func (r *Repository) UpdateUser(ctx context.Context, user *credits.User) error {
	const q = `UPDATE users SET
		email = $2,
		current_plan = $3,
		monthly_credits = $4,
		purchased_credits = $5,
		credits_reset_date = $6,
		billing_provider = $7,
		customer_id = NULLIF($8, ''),
		subscription_id = NULLIF($9, ''),
		subscription_amount = $10,
		subscription_currency = $11,
		subscription_interval = $12,
		cancel_at_period_end = $13,
		updated_at = COALESCE($14, NOW())
	WHERE id = $1`

	tag, err := r.conn(ctx).Exec(ctx, q,
		user.ID, user.Email, string(user.CurrentPlan), user.MonthlyCredits, user.PurchasedCredits, user.CreditsResetDate,
		user.BillingProvider, user.CustomerID, user.SubscriptionID,
		user.SubscriptionAmount, user.SubscriptionCurrency, string(user.SubscriptionInterval), user.CancelAtPeriodEnd,
		nullTime(user.UpdatedAt),
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return credits.ErrEmailTaken
		}
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return credits.ErrUserNotFound
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
