package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pixelcredits/svc/credits"
)

func (r *Repository) InsertLedgerEntry(ctx context.Context, entry *credits.LedgerEntry) error {
	const q = `INSERT INTO credit_ledger (
		id, user_id, type, amount, remaining, reset_date, source, description, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, q,
		entry.ID, entry.UserID, string(entry.Type), entry.Amount, entry.Remaining,
		entry.ResetDate, entry.Source, entry.Description, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (r *Repository) LedgerEntryExists(ctx context.Context, userID uuid.UUID, typ credits.EntryType, source string) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM credit_ledger WHERE user_id = $1 AND type = $2 AND source = $3
	)`

	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, q, userID, string(typ), source).Scan(&exists); err != nil {
		return false, fmt.Errorf("check ledger entry: %w", err)
	}
	return exists, nil
}

// ListLedger returns entries newest first. A non-positive limit means no limit.
func (r *Repository) ListLedger(ctx context.Context, userID uuid.UUID, limit, offset int) ([]credits.LedgerEntry, error) {
	const q = `SELECT id, user_id, type, amount, remaining, reset_date, source, description, created_at
	FROM credit_ledger
	WHERE user_id = $1
	ORDER BY seq DESC
	LIMIT NULLIF($2, 0) OFFSET $3`

	rows, err := r.conn(ctx).Query(ctx, q, userID, max(limit, 0), max(offset, 0))
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	out := []credits.LedgerEntry{}
	for rows.Next() {
		var (
			e   credits.LedgerEntry
			typ string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &typ, &e.Amount, &e.Remaining,
			&e.ResetDate, &e.Source, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Type = credits.EntryType(typ)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	return out, nil
}
