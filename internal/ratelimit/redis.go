package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = time.Second

// RedisLimiter shares window counters across server processes. Counting is
// INCR on a per-window key, so concurrent processes converge within one
// round trip rather than being strictly serialized.
type RedisLimiter struct {
	rdb     *redis.Client
	modules map[string]ModuleConfig
	log     *log.Logger

	now func() time.Time
}

func NewRedisLimiter(rdb *redis.Client, modules map[string]ModuleConfig, logger *log.Logger) *RedisLimiter {
	if modules == nil {
		modules = DefaultModules()
	}
	return &RedisLimiter{
		rdb:     rdb,
		modules: modules,
		log:     logger,
		now:     time.Now,
	}
}

func (l *RedisLimiter) Check(subjectKey, module string) Result {
	cfg, ok := l.modules[module]
	if !ok || cfg.Budget <= 0 {
		return Result{Allowed: true, Remaining: -1}
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	now := l.now()
	windowSecs := int64(cfg.Window / time.Second)
	bucket := now.Unix() / windowSecs
	windowStart := time.Unix(bucket*windowSecs, 0)

	key := fmt.Sprintf("rl:%s:%s:%d", module, subjectKey, bucket)
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		// fail open: a counter outage must not take down messaging
		l.log.Printf("rate limit counter unavailable for %s/%s: %v", subjectKey, module, err)
		return Result{Allowed: true, Remaining: -1}
	}

	if count == 1 {
		if err := l.rdb.Expire(ctx, key, cfg.Window+time.Minute).Err(); err != nil {
			l.log.Printf("rate limit expire %s: %v", key, err)
		}
	}

	return evaluate(module, cfg, int(count), windowStart, func() bool {
		warnKey := fmt.Sprintf("rlwarn:%s:%s", module, subjectKey)
		set, err := l.rdb.SetNX(ctx, warnKey, 1, cfg.WarnInterval).Result()
		if err != nil {
			l.log.Printf("rate limit warn dedup %s: %v", warnKey, err)
			return false
		}
		return set
	})
}
