package webhooks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only while it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares in-flight locks between server replicas. A lock is a
// SET NX key holding a random token; release goes through a script that
// deletes the key only while it still holds that token.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker creates a RedisLocker. Every key is stored under prefix.
// Panics if client is nil.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	if client == nil {
		panic("webhooks: redis client is required")
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// Lock takes key for ttl. Redis errors are returned as is, so the caller
// answers 5xx and the provider redelivers.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (Unlock, error) {
	key = l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, errors.Join(errors.New("webhooks: acquire redis lock"), err)
	}
	if !ok {
		return nil, ErrEventInFlight
	}

	return func(ctx context.Context) error {
		n, err := unlockScript.Run(ctx, l.client, []string{key}, token).Int()
		if err != nil {
			return errors.Join(errors.New("webhooks: release redis lock"), err)
		}
		if n == 0 {
			return ErrLockNotHeld
		}
		return nil
	}, nil
}
