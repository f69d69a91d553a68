// Package webhooks receives payment provider webhooks.
//
// A delivery to POST /webhooks/{provider} goes through these steps:
//
//  1. the raw body is verified against the provider signature
//  2. the body is parsed into a billing.Event
//  3. an in-flight lock on (provider, event id) is taken, so a concurrent
//     duplicate gets 409 and is retried later by the provider
//  4. the stored row is looked up; a row processed without error answers 200
//     without reprocessing, otherwise the row is created or reused
//  5. the event is dispatched and the row is marked processed in the same
//     transaction
//  6. post-commit actions of the reconcile.Result run
//
// A dispatch error rolls the transaction back, records the error on the row
// and answers 500 so the provider redelivers.
//
// # Usage
//
//	ingestor := webhooks.NewIngestor(providers, repo, repo, router,
//	    webhooks.WithLocker(webhooks.NewRedisLocker(rdb, "pixelcredits:webhooks:")),
//	    webhooks.WithMetrics(webhooks.NewMetrics(prometheus.DefaultRegisterer)),
//	    webhooks.WithLogger(log),
//	)
//	mux.Mount("/webhooks", webhooks.NewHandler(ingestor).Routes())
//
// The repository is passed twice: once as EventStore and once as TxRunner.
// Both must share a database so the event row and the user changes commit
// together.
//
// # Response Codes
//
//   - 200: processed, or a duplicate of an event already processed
//   - 400: missing or invalid signature, malformed payload
//   - 404: provider not registered
//   - 409: the same event is being processed by another delivery
//   - 413: body larger than the configured limit
//   - 500: processing failed; the error is stored on the event row
//
// # Stored Events
//
// Every verified delivery is stored with its raw body byte for byte. The
// row is kept after processing and serves as the audit trail: the processed
// flag, the last error and the processing time show what happened to each
// event.
//
// # Metrics
//
// NewMetrics registers pixelcredits_webhook_events_total labelled by
// provider, event kind and status, and a dispatch duration histogram.
// Deliveries for unregistered providers are counted under the "unknown"
// provider label, so the URL cannot create new series.
package webhooks
