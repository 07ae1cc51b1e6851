package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key 前缀
const redisLockPrefix = "cas:lock:"

// 只删除自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLockingStrategy 基于 Redis SET NX PX 的锁策略
type RedisLockingStrategy struct {
	redis *redis.Client
	owner string
	ttl   time.Duration
}

// NewRedisLockingStrategy 创建 Redis 锁策略
func NewRedisLockingStrategy(redisClient *redis.Client, owner string, ttl time.Duration) *RedisLockingStrategy {
	return &RedisLockingStrategy{redis: redisClient, owner: owner, ttl: ttl}
}

// Owner 锁持有者标识
func (s *RedisLockingStrategy) Owner() string { return s.owner }

// Acquire 尝试获取锁
func (s *RedisLockingStrategy) Acquire(ctx context.Context, name string) (bool, error) {
	ok, err := s.redis.SetNX(ctx, redisLockPrefix+name, s.owner, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("获取 Redis 锁失败: %w", err)
	}
	return ok, nil
}

// Release 释放锁
func (s *RedisLockingStrategy) Release(ctx context.Context, name string) error {
	if err := releaseScript.Run(ctx, s.redis, []string{redisLockPrefix + name}, s.owner).Err(); err != nil {
		return fmt.Errorf("释放 Redis 锁失败: %w", err)
	}
	return nil
}
