package limiter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "identity:attempts:"

// Redis is a fixed-window Limiter over Redis counters. Scopes without a
// budget are not limited.
type Redis struct {
	client  redis.UniversalClient
	budgets map[Scope]Budget
}

func NewRedis(client redis.UniversalClient, budgets map[Scope]Budget) *Redis {
	return &Redis{client: client, budgets: budgets}
}

func (l *Redis) Take(ctx context.Context, scope Scope, key string) error {
	budget, ok := l.budget(scope)
	if !ok {
		return nil
	}
	k := counterKey(scope, key)
	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	// The window starts with the first attempt.
	if count == 1 {
		if err := l.client.Expire(ctx, k, budget.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	if count > int64(budget.Attempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Redis) Reset(ctx context.Context, scope Scope, key string) error {
	if _, ok := l.budget(scope); !ok {
		return nil
	}
	if err := l.client.Del(ctx, counterKey(scope, key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Redis) budget(scope Scope) (Budget, bool) {
	b, ok := l.budgets[scope]
	if !ok || b.Attempts <= 0 || b.Window <= 0 {
		return Budget{}, false
	}
	return b, true
}

// counterKey hashes key so that raw emails never appear in Redis.
func counterKey(scope Scope, key string) string {
	sum := sha256.Sum256([]byte(key))
	return keyPrefix + string(scope) + ":" + hex.EncodeToString(sum[:16])
}
