package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// NewLocalBatchLock 进程内的批次锁, 单实例部署的时候使用
func NewLocalBatchLock(logger *slog.Logger) BatchLock {
	if logger == nil {
		logger = slog.Default()
	}
	return &localBatchLock{
		locks:  &sync.Map{},
		logger: logger,
	}
}

type localBatchLock struct {
	locks  *sync.Map // key -> *localLockInfo
	logger *slog.Logger
}

type localLockInfo struct {
	mu      sync.Mutex
	stateMu sync.Mutex  // 保护 value 和 timer, 超时释放和正常释放会并发
	value   string      // 持有者标识
	timer   *time.Timer // 超时定时器
}

func (l *localBatchLock) NonBlockingSynchronized(ctx context.Context, key string, maxLockTimeDuration time.Duration, f func(context.Context) error) error {
	if _, ok := ctx.Value(lockKey(key)).(string); ok {
		// 已经持有锁，可重入
		return f(ctx)
	}

	value := fmt.Sprintf("%d_%d", rand.Int(), time.Now().UnixNano())
	info, ok := l.acquire(key)
	if !ok {
		return errors.WithMessagef(LockFailedError, "[localBatchLock.NonBlockingSynchronized] has been locked, key: %s", key)
	}
	info.stateMu.Lock()
	info.value = value
	info.timer = time.AfterFunc(maxLockTimeDuration, func() {
		l.logger.Warn("batch lock expired before release", "key", key)
		l.releaseKey(key, value)
	})
	info.stateMu.Unlock()
	defer l.releaseKey(key, value)
	return f(context.WithValue(ctx, lockKey(key), value))
}

// acquire 拿到的 info 必须还在 map 里面, 已经被释放删除的 info 不能再加锁
func (l *localBatchLock) acquire(key string) (*localLockInfo, bool) {
	for {
		lockInfo, _ := l.locks.LoadOrStore(key, &localLockInfo{})
		info := lockInfo.(*localLockInfo)
		if !info.mu.TryLock() {
			return nil, false
		}
		if current, ok := l.locks.Load(key); ok && current == info {
			return info, true
		}
		info.mu.Unlock()
	}
}

func (l *localBatchLock) releaseKey(key string, value string) {
	lockInfo, ok := l.locks.Load(key)
	if !ok {
		return
	}
	info := lockInfo.(*localLockInfo)
	info.stateMu.Lock()
	defer info.stateMu.Unlock()
	if info.value != value {
		// 超时释放之后被别人重新拿到了
		l.logger.Debug("batch lock owner changed, skip release", "key", key)
		return
	}
	info.value = ""
	if info.timer != nil {
		info.timer.Stop()
	}
	l.locks.CompareAndDelete(key, info)
	info.mu.Unlock()
}
