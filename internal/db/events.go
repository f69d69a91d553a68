package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pixelcredits/pkg/pg"
	"github.com/dmitrymomot/pixelcredits/svc/webhooks"
)

func (r *Repository) GetEvent(ctx context.Context, provider, eventID string) (*webhooks.Event, error) {
	const q = `SELECT id, provider, event_type, event_id, payload, processed,
		COALESCE(processing_error, ''), received_at, processed_at
	FROM webhook_events
	WHERE provider = $1 AND event_id = $2`

	var e webhooks.Event
	err := r.conn(ctx).QueryRow(ctx, q, provider, eventID).Scan(
		&e.ID, &e.Provider, &e.EventType, &e.EventID, &e.Payload, &e.Processed,
		&e.ProcessingError, &e.ReceivedAt, &e.ProcessedAt,
	)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, webhooks.ErrEventNotFound
		}
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	return &e, nil
}

func (r *Repository) InsertEvent(ctx context.Context, event *webhooks.Event) error {
	const q = `INSERT INTO webhook_events (
		id, provider, event_type, event_id, payload, processed, processing_error, received_at, processed_at
	) VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, q,
		event.ID, event.Provider, event.EventType, event.EventID, event.Payload,
		event.Processed, event.ProcessingError, event.ReceivedAt, event.ProcessedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return webhooks.ErrDuplicateEvent
		}
		return fmt.Errorf("insert webhook event: %w", err)
	}
	return nil
}

func (r *Repository) MarkEventProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.markEvent(ctx, id, "", at)
}

func (r *Repository) MarkEventFailed(ctx context.Context, id uuid.UUID, processingError string, at time.Time) error {
	return r.markEvent(ctx, id, processingError, at)
}

func (r *Repository) markEvent(ctx context.Context, id uuid.UUID, processingError string, at time.Time) error {
	const q = `UPDATE webhook_events
	SET processed = TRUE, processing_error = NULLIF($2, ''), processed_at = $3
	WHERE id = $1`

	tag, err := r.conn(ctx).Exec(ctx, q, id, processingError, at)
	if err != nil {
		return fmt.Errorf("mark webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return webhooks.ErrEventNotFound
	}
	return nil
}
