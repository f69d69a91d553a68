// Package db holds the PostgreSQL schema and the repository behind the
// credits and webhooks stores.
package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/pixelcredits/pkg/pg"
	"github.com/dmitrymomot/pixelcredits/svc/credits"
	"github.com/dmitrymomot/pixelcredits/svc/webhooks"
)

// Repository is the PostgreSQL store for users, the credit ledger and
// webhook events. Every method runs on the transaction carried by ctx when
// there is one.
type Repository struct {
	pool *pgxpool.Pool
}

var (
	_ credits.Store       = (*Repository)(nil)
	_ webhooks.EventStore = (*Repository)(nil)
	_ webhooks.TxRunner   = (*Repository)(nil)
)

func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("db: pool is required")
	}
	return &Repository{pool: pool}
}

// WithTx runs fn in a transaction. Nested calls join the outer one.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return pg.WithTx(ctx, r.pool, fn)
}

func (r *Repository) conn(ctx context.Context) pg.DBTX {
	return pg.Conn(ctx, r.pool)
}
