// Package pg wraps pgx/v5 and goose for the billing service's Postgres layer.
//
// Connect opens a *pgxpool.Pool with retry, Migrate applies goose migrations
// from an fs.FS (the service embeds its SQL files), and Healthcheck feeds the
// readiness check.
//
// WithTx and Conn implement transaction-in-context: a service opens a
// transaction once and every repository method called with that context runs
// on the same pgx.Tx. Nested WithTx calls join the outer transaction. This is
// how a reconciliation handler commits a user update, its ledger entry and
// the webhook event status as one unit.
//
// Error helpers (IsNotFoundError, IsDuplicateKeyError, IsSerializationError)
// classify pgx errors without leaking pgconn into callers.
package pg
