// Package generation sells image generations for credits.
//
// Service.Generate reserves the per-image cost before calling the inference
// API and releases the reservation when the call fails, so a user is never
// charged for an image that was not produced and no paid work starts without
// payment. HTTPClient talks to the hosted API with retries, exponential
// backoff and a circuit breaker.
//
// # Usage
//
//	client, err := generation.NewHTTPClient(cfg.Generation)
//	if err != nil {
//		return err
//	}
//	svc := generation.NewService(ledger, client,
//		generation.WithCreditsPerImage(cfg.Generation.CreditsPerImage),
//	)
//	res, err := svc.Generate(ctx, userID, generation.Request{Prompt: "a red fox"})
//
// # Retries
//
// HTTPClient retries transport errors, timeouts, 5xx answers and the 4xx
// codes that ask the caller to come back later (408, 425, 429). Other 4xx
// answers fail at once with ErrPermanentFailure. After five failed calls in
// a row the circuit breaker opens and calls fail with ErrCircuitOpen until
// the recovery timeout has passed.
//
// The whole retry loop runs while the user's credits are reserved. Keep
// Timeout * (MaxRetries+1) well below the HTTP server's write timeout.
package generation
