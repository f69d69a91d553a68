// Package logger builds *slog.Logger instances for the billing service.
//
// New applies functional options (format, level, static attributes, context
// extractors) and wraps the chosen slog handler with a context handler that
// pulls request-scoped values such as the request id out of context.Context on
// every record.
//
// Attribute helpers in attr.go keep key names consistent across packages:
// provider, event_id, event_type, subscription_id, customer_id, invoice_id,
// user_id and friends. Reconciliation code relies on them when it reports
// webhook events it cannot link to a user.
//
//	log := logger.New(
//		logger.WithEnvironment(cfg.Env, "pixelcredits"),
//		logger.WithContextExtractors(requestIDExtractor),
//	)
//	log.InfoContext(ctx, "webhook received", logger.Provider("stripe"), logger.EventID(id))
package logger
