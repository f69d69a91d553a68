// Package checkout starts billing flows and serves the internal API.
//
// Service creates provider customers and hosted checkout links, requests
// cancellations and seeds the provider catalog. None of these calls touch a
// user's plan or credits; those change only when the matching webhook is
// reconciled.
//
// API exposes sign-up, balance, ledger history, credit deduction, image
// generation and the checkout operations to the web application over JSON,
// guarded by a static bearer token.
//
// # Endpoints
//
// All paths are relative to the /internal mount point:
//
//	POST /users                                   create a user with the welcome grant
//	GET  /users/{userID}/balance                  current balance and plan
//	GET  /users/{userID}/ledger                   ledger entries, newest first
//	POST /users/{userID}/credits/deduct           spend credits
//	POST /users/{userID}/credits/add              grant credits to one bucket
//	POST /users/{userID}/generations              generate an image and pay for it
//	POST /users/{userID}/checkout/subscription    hosted checkout for a plan
//	POST /users/{userID}/checkout/credits         hosted checkout for the credit pack
//	POST /users/{userID}/subscription/cancel      ask the provider to cancel
//	POST /catalog/{provider}/sync                 create missing products and prices
//
// # Errors
//
// Errors are JSON objects with an "error" field. Insufficient credits answer
// 402 and add "required" and "available". Unknown users, plans and providers
// answer 404, conflicts such as an existing subscription answer 409, and
// provider API failures answer 502.
//
// # Provider Choice
//
// A user stays with the provider that billed them first. New users go to
// Config.DefaultProvider, or to the registry default when it is empty.
package checkout
