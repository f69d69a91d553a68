// Package billing is the payment provider abstraction of the credits core.
//
// A Provider wraps one payment provider SDK (Stripe, Paddle) behind the
// operations the rest of the system needs: customers, hosted checkout links,
// cancellation, subscription and invoice lookups, catalog setup, and webhook
// verification and parsing. Providers are collected into a Registry in main
// and injected into the services that use them.
//
// Webhook bodies are parsed into an Event whose Payload is one of a closed set
// of typed payloads (CheckoutCompleted, PaymentSucceeded, PaymentFailed,
// SubscriptionUpdated, SubscriptionDeleted). Unhandled types parse with a nil
// Payload. An invoice's link to its subscription is a SubscriptionRef:
// KnownSubscription, RecoverableSubscription (fetch the invoice by id) or
// UnresolvableSubscription.
//
// # Event Mapping
//
//	Stripe                           Paddle                      Kind
//	checkout.session.completed       transaction.completed (1)   KindCheckoutCompleted
//	invoice.paid, .payment_succeeded transaction.completed       KindPaymentSucceeded
//	invoice.payment_failed           transaction.payment_failed  KindPaymentFailed
//	customer.subscription.updated    subscription.updated        KindSubscriptionUpdated
//	customer.subscription.deleted    subscription.canceled       KindSubscriptionDeleted
//
// (1) Paddle sends one event type for a completed checkout and a paid
// invoice. ParseEvent treats a non-recurring transaction that carries the
// user id in custom_data as a checkout, and anything else as a payment.
//
// Outbound SDK calls take the caller's context, so a cancelled request stops
// the provider call as well. Failures are wrapped with ErrProviderAPI.
//
// # Catalog
//
// The plan Catalog is static YAML, embedded by default:
//
//	catalog, err := billing.LoadCatalog(os.Getenv("BILLING_PLANS_FILE"))
//	plan, err := catalog.PlanByPriceID(billing.ProviderStripe, priceID)
package billing
