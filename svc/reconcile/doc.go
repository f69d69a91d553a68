// Package reconcile turns verified billing events into user plan and credit
// state.
//
// Router.Dispatch takes a provider-neutral *billing.Event and routes its
// payload to one handler:
//
//   - checkout completed: credit pack purchase or plan activation
//   - payment succeeded: monthly credit reset, deduplicated per invoice
//   - payment failed: downgrade after FailedPaymentLimit attempts
//   - subscription updated: cancel flag sync and plan changes
//   - subscription deleted: downgrade to the free plan
//
// Users are located by subscription id first and by customer id second. A
// subscription id learned through the customer fallback is written back to
// the user. Events that cannot be linked to any user are logged with every
// id that was tried and reported as OutcomeUnresolved without an error, so
// the caller acknowledges them instead of retrying forever.
//
// Every handler writes inside Store.WithTx. Notifications are attached to the
// returned Result and must be fired with Result.AfterCommit once the caller's
// transaction has committed.
package reconcile
