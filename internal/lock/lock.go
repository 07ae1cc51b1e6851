// Package lock 集群互斥锁，用于串行化各节点的票据清理
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// ErrLockUnavailable 锁被其他节点持有，不是故障，调用方应跳过本次执行
var ErrLockUnavailable = errors.New("锁已被其他节点持有")

// 释放锁的超时时间，释放不受调用方上下文取消的影响
const releaseTimeout = 5 * time.Second

// LockingStrategy 锁策略
// Acquire 非阻塞：锁被他人持有时立即返回 false；
// 获得的锁带有 TTL，持有者崩溃后锁会自动过期
type LockingStrategy interface {
	// Acquire 尝试获取锁，返回 false 且 error 为 nil 表示锁被他人持有
	Acquire(ctx context.Context, name string) (bool, error)
	// Release 释放自己持有的锁，锁不属于自己时不做任何事
	Release(ctx context.Context, name string) error
}

// WithLock 在持有锁期间执行 fn，无论 fn 如何结束都会释放锁
// 未获得锁时返回 ErrLockUnavailable
func WithLock(ctx context.Context, strategy LockingStrategy, name string, fn func(ctx context.Context) error) (err error) {
	ok, err := strategy.Acquire(ctx, name)
	if err != nil {
		return fmt.Errorf("获取锁 %s 失败: %w", name, err)
	}
	if !ok {
		return ErrLockUnavailable
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if releaseErr := strategy.Release(releaseCtx, name); releaseErr != nil {
			err = errors.Join(err, fmt.Errorf("释放锁 %s 失败: %w", name, releaseErr))
		}
	}()

	return fn(ctx)
}

// NewOwnerID 生成节点唯一的锁持有者标识：<主机名>-<uuid>
func NewOwnerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return host + "-" + uuid.New().String()
}
