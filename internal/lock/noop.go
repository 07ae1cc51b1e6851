package lock

import "context"

// NoOpLockingStrategy 总是获得锁，用于单节点部署
type NoOpLockingStrategy struct{}

// NewNoOpLockingStrategy 创建空锁策略
func NewNoOpLockingStrategy() *NoOpLockingStrategy {
	return &NoOpLockingStrategy{}
}

// Acquire 总是成功
func (*NoOpLockingStrategy) Acquire(context.Context, string) (bool, error) { return true, nil }

// Release 什么都不做
func (*NoOpLockingStrategy) Release(context.Context, string) error { return nil }
