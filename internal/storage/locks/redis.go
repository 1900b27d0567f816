package locks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultTTL = 5 * time.Minute

	keyPrefix    = "dcabot:lock:"
	retryEvery   = 250 * time.Millisecond
	releaseAfter = 5 * time.Second
)

// release deletes the key only while it still holds our token, so an expired
// lock taken over by another instance is never released by us.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lock shared by every bot instance connected to the same redis.
// A holder that dies loses the lock after ttl.
type Redis struct {
	l      *zap.Logger
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(l *zap.Logger, client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{l: l, client: client, ttl: ttl}
}

// Lock polls until key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "acquire lock %s", key)
		}
		if ok {
			break
		}

		timer := time.NewTimer(retryEvery)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), releaseAfter)
			defer cancel()
			if err := release.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil {
				r.l.Warn("Failed to release lock, it expires on its own",
					zap.String("key", key),
					zap.Duration("ttl", r.ttl),
					zap.Error(err))
			}
		})
	}, nil
}
