// Package notify sends billing emails: plan activated, credits purchased and
// subscription downgraded. Bodies are templ components rendered through
// pkg/email. Notifier satisfies reconcile.Notifier.
//
// # Usage
//
//	n := notify.New(sender,
//		notify.WithAppURL("https://pixelcredits.app"),
//		notify.WithLogger(log),
//	)
//	router := reconcile.NewRouter(store, ledger, catalog, providers,
//		reconcile.WithNotifier(n),
//	)
//
// Emails are sent after the webhook transaction commits, detached from the
// request context and bounded by the send timeout. A failed send is logged
// and dropped; the provider is not asked to redeliver the event for it.
package notify
