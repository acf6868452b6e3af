// README: Redis-backed in-flight guard so replicas create one response per submit.
package submission

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"trail/internal/types"
)

const guardKeyPrefix = "trail:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type RedisGuard struct {
	redis *redis.Client
}

func NewRedisGuard(redis *redis.Client) *RedisGuard {
	return &RedisGuard{redis: redis}
}

// Acquire takes key for at most ttl. The release func only deletes the key
// while it still holds this holder's token.
func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	key = guardKeyPrefix + key
	token := types.NewID().String()
	ok, err := g.redis.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, g.redis, []string{key}, token).Err()
	}
	return release, true, nil
}
