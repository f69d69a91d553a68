// Package credits owns users' credit balances and the append-only ledger.
//
// Every user has two balances: monthly credits, which are reset by the
// subscription plan each billing cycle, and purchased credits, which never
// expire. Spending always drains monthly credits first. No operation lets a
// balance go negative and deductions are all-or-nothing.
//
// Each change writes a LedgerEntry whose Remaining field is the total balance
// right after the change. Balance updates and their ledger entries are written
// in one Store transaction.
//
// # Spending
//
// Deduct is for work that is already done. Work that costs credits should
// Reserve before starting and Release if the work fails:
//
//	r, err := svc.Reserve(ctx, userID, cost, "image generation")
//	if err != nil {
//		return err // *InsufficientCreditsError matches ErrInsufficientCredits
//	}
//	if err := generate(); err != nil {
//		_, _ = svc.Release(ctx, r, "generation failed")
//		return err
//	}
//
// A reservation is an ordinary usage entry. Releasing writes a refund entry
// with the same source, so a second Release finds it and does nothing.
//
// # Grants
//
// Billing code changes balances through ApplyGrant. A grant either adds to a
// bucket or sets it, and may carry the date of the next monthly reset:
//
//	applied, err := svc.ApplyGrant(ctx, user, credits.Grant{
//		Type:      credits.EntryMonthlyReset,
//		Bucket:    credits.BucketMonthly,
//		Mode:      credits.GrantSet,
//		Amount:    plan.MonthlyCredits,
//		Source:    invoice.ID,
//		ResetDate: &periodEnd,
//		Dedupe:    true,
//	})
//
// With Dedupe set the grant is skipped when the user already has an entry of
// the same type from the same source. Providers redeliver events, and this
// check is what keeps a redelivered invoice from granting twice.
//
// Grants that would push the total past math.MaxInt64 are rejected with
// ErrInvalidAmount.
//
// # Stores
//
// MemoryStore serves tests and local runs. The Postgres store lives in
// internal/db. Both must make GetUserForUpdate hold the user until the
// transaction ends; the balance checks depend on it.
package credits
