// Package redis connects to Redis through go-redis/v9 with retry and exposes
// a readiness check. The billing service uses Redis for short-lived
// coordination only (the webhook in-flight lock); nothing durable lives there.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
package redis
