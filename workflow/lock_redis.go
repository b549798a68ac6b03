package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	delCommand = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`
)

// NewRedisBatchLock 基于 redis 的批次锁, 多实例部署的时候使用
func NewRedisBatchLock(redisClient redis.Cmdable, logger *slog.Logger) BatchLock {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisBatchLock{redisClient: redisClient, logger: logger}
}

type redisBatchLock struct {
	redisClient redis.Cmdable
	logger      *slog.Logger
}

func (d *redisBatchLock) NonBlockingSynchronized(ctx context.Context, key string, maxLockTimeDuration time.Duration, f func(ctx2 context.Context) error) error {
	if _, ok := ctx.Value(lockKey(key)).(string); ok {
		// 之前成功上锁了,继续执行即可
		return f(ctx)
	}
	value := fmt.Sprintf("%d_%d", rand.Int(), time.Now().UnixNano())
	isLock, err := d.redisClient.SetNX(ctx, key, value, maxLockTimeDuration).Result()
	if err != nil {
		return errors.WithMessagef(LockFailedError, "[redisBatchLock.NonBlockingSynchronized] SetNX failed, key: %s, err: %v", key, err)
	}
	if !isLock {
		return errors.WithMessagef(LockFailedError, "[redisBatchLock.NonBlockingSynchronized] has been locked, key: %s", key)
	}
	defer d.releaseKey(key, value)
	return f(context.WithValue(ctx, lockKey(key), value))
}

func (d *redisBatchLock) releaseKey(key string, value string) {
	// ctx 可能已经被 cancel, 释放锁用新的 context
	reply, err := d.redisClient.Eval(context.Background(), delCommand, []string{key}, value).Int64()
	if err != nil {
		d.logger.Error("release batch lock failed", "key", key, "error", err)
		return
	}
	if reply != 1 {
		d.logger.Warn("batch lock already released or expired", "key", key, "reply", reply)
	}
}
