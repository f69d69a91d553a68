package webhooks

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/pixelcredits/pkg/billing"
	"github.com/dmitrymomot/pixelcredits/pkg/logger"
	"github.com/dmitrymomot/pixelcredits/svc/reconcile"
)

const defaultLockTTL = 2 * time.Minute

// Receipt describes what happened to one delivery.
type Receipt struct {
	// Status is StatusProcessed or StatusDuplicate.
	Status  string
	EventID string
	// Outcome is empty for duplicates, which are not dispatched again.
	Outcome reconcile.Outcome
}

// Ingestor verifies, deduplicates, records and dispatches webhook deliveries.
// It is the transport-independent core of Handler and is safe for
// concurrent use.
type Ingestor struct {
	providers *billing.Registry
	events    EventStore
	tx        TxRunner
	router    Dispatcher
	locker    Locker
	lockTTL   time.Duration
	metrics   *Metrics
	log       *slog.Logger
	now       func() time.Time
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLocker replaces the process-local in-flight lock.
func WithLocker(l Locker) Option {
	return func(i *Ingestor) {
		if l != nil {
			i.locker = l
		}
	}
}

// WithLockTTL sets how long an in-flight lock lives. It must exceed the
// slowest expected dispatch, otherwise a redelivery can start while the
// first attempt is still running. Non-positive values are ignored.
func WithLockTTL(ttl time.Duration) Option {
	return func(i *Ingestor) {
		if ttl > 0 {
			i.lockTTL = ttl
		}
	}
}

// WithMetrics enables Prometheus counters and timings. Without it nothing is
// recorded.
func WithMetrics(m *Metrics) Option {
	return func(i *Ingestor) { i.metrics = m }
}

// WithLogger sets the logger. Rejections are logged at warn level and
// processing failures at error level.
func WithLogger(l *slog.Logger) Option {
	return func(i *Ingestor) { i.log = l }
}

// WithClock replaces time.Now for received and processed timestamps.
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

// NewIngestor creates an Ingestor. tx must be the transaction runner of the
// same database that events and router write to.
// Panics if providers, events, tx or router is nil.
func NewIngestor(providers *billing.Registry, events EventStore, tx TxRunner, router Dispatcher, opts ...Option) *Ingestor {
	if providers == nil || events == nil || tx == nil || router == nil {
		panic("webhooks: providers, event store, tx runner and router are required")
	}
	i := &Ingestor{
		providers: providers,
		events:    events,
		tx:        tx,
		router:    router,
		locker:    NewMemoryLocker(),
		lockTTL:   defaultLockTTL,
		log:       logger.Discard(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest handles one raw delivery for the named provider.
//
// Signature and payload errors are returned before anything is stored. An
// event already processed without error is acknowledged as a duplicate. A
// stored event that failed earlier is processed again on the same row.
// Handler errors are recorded on the row and returned wrapped in
// ErrProcessingFailed.
func (i *Ingestor) Ingest(ctx context.Context, providerName string, payload []byte, header http.Header) (*Receipt, error) {
	log := i.log.With(logger.Provider(providerName))

	provider, err := i.providers.Get(providerName)
	if err != nil {
		// The name comes from an unauthenticated URL segment. Only
		// registered providers may become label values.
		i.metrics.observe(unknownProvider, string(billing.KindIgnored), StatusRejected)
		return nil, err
	}
	if err := provider.VerifyWebhook(ctx, payload, header); err != nil {
		log.WarnContext(ctx, "webhook signature rejected", logger.Error(err))
		i.metrics.observe(providerName, string(billing.KindIgnored), StatusRejected)
		return nil, err
	}
	ev, err := provider.ParseEvent(payload)
	if err != nil {
		log.WarnContext(ctx, "webhook payload rejected", logger.Error(err))
		i.metrics.observe(providerName, string(billing.KindIgnored), StatusRejected)
		return nil, err
	}

	kind := string(ev.Kind())
	log = log.With(logger.EventID(ev.ID), logger.EventType(ev.Type))

	// The lock is scoped by provider because event ids are only unique
	// within one provider.
	unlock, err := i.locker.Lock(ctx, providerName+":"+ev.ID, i.lockTTL)
	if err != nil {
		if errors.Is(err, ErrEventInFlight) {
			log.InfoContext(ctx, "event already in flight")
			i.metrics.observe(providerName, kind, StatusInFlight)
		}
		return nil, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			log.WarnContext(ctx, "failed to release event lock", logger.Error(err))
		}
	}()

	row, err := i.record(ctx, providerName, ev, payload)
	if err != nil {
		return nil, err
	}
	if row.Done() {
		log.InfoContext(ctx, "duplicate delivery acknowledged")
		i.metrics.observe(providerName, kind, StatusDuplicate)
		return &Receipt{Status: StatusDuplicate, EventID: ev.ID}, nil
	}

	// The event row is marked inside the dispatch transaction. A crash
	// between the user writes and the mark is therefore impossible: either
	// both commit or the redelivery finds an unprocessed row.
	start := i.now()
	var res *reconcile.Result
	err = i.tx.WithTx(ctx, func(ctx context.Context) error {
		r, err := i.router.Dispatch(ctx, ev)
		if err != nil {
			return err
		}
		res = r
		return i.events.MarkEventProcessed(ctx, row.ID, i.now().UTC())
	})
	i.metrics.observeDuration(providerName, kind, i.now().Sub(start))

	if err != nil {
		// The transaction is gone, so the error is recorded outside it. The
		// caller may have disconnected; the record must still be written.
		if markErr := i.events.MarkEventFailed(context.WithoutCancel(ctx), row.ID, err.Error(), i.now().UTC()); markErr != nil {
			log.ErrorContext(ctx, "failed to record processing error", logger.Error(markErr))
		}
		log.ErrorContext(ctx, "webhook processing failed", logger.Error(err))
		i.metrics.observe(providerName, kind, StatusFailed)
		return nil, errors.Join(ErrProcessingFailed, err)
	}

	res.AfterCommit(ctx)
	i.metrics.observe(providerName, kind, StatusProcessed)
	return &Receipt{Status: StatusProcessed, EventID: ev.ID, Outcome: res.Outcome}, nil
}

// record returns the stored row for ev, inserting it when missing.
func (i *Ingestor) record(ctx context.Context, providerName string, ev *billing.Event, payload []byte) (*Event, error) {
	row, err := i.events.GetEvent(ctx, providerName, ev.ID)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, ErrEventNotFound) {
		return nil, err
	}

	row = &Event{
		ID:         uuid.New(),
		Provider:   providerName,
		EventType:  ev.Type,
		EventID:    ev.ID,
		Payload:    payload,
		ReceivedAt: i.now().UTC(),
	}
	if err := i.events.InsertEvent(ctx, row); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			// Lost an insert race with a delivery that bypassed the lock.
			return nil, ErrEventInFlight
		}
		return nil, err
	}
	return row, nil
}
