package workflow

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	LockFailedError = errors.New("lock failed")
)

// BatchLock 批次锁, 同一个批次号同一时间只能被一个调用处理
type BatchLock interface {
	// NonBlockingSynchronized
	//  @Description:  1.非阻塞同步块,如果没有拿到锁，立刻返回 LockFailedError
	//                 2.同一个 ctx 链路上可以重入
	//  @param ctx 原来的ctx
	//  @param key 锁的key, 一般是批次号
	//  @param maxLockTimeDuration 锁最大的时间, 超时自动释放
	//  @param f 具体执行函数的闭包
	//  @return error
	NonBlockingSynchronized(ctx context.Context, key string, maxLockTimeDuration time.Duration, f func(context.Context) error) error
}

type lockKey string

func batchLockKey(batchID string) string {
	return "netflow:batch:" + batchID
}

// LockBatch 用批次号加锁执行 f, 锁被占用的时候返回 ErrBatchInProgress
func LockBatch(ctx context.Context, lock BatchLock, batchID string, maxLockTimeDuration time.Duration, f func(context.Context) error) error {
	if lock == nil || batchID == "" {
		return f(ctx)
	}
	locked := false
	err := lock.NonBlockingSynchronized(ctx, batchLockKey(batchID), maxLockTimeDuration, func(ctx context.Context) error {
		locked = true
		return f(ctx)
	})
	if err != nil && !locked && errors.Is(err, LockFailedError) {
		return errors.WithMessagef(ErrBatchInProgress, "LockBatch failed, batch_id: %s, err: %v", batchID, err)
	}
	return err
}
