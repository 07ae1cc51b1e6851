package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/pu-ac-cn/uac-ticket/internal/clock"
	"github.com/pu-ac-cn/uac-ticket/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DatabaseLockingStrategy 基于数据库行的锁策略
// 获取锁依赖单条 UPDATE / INSERT 的原子性，不使用长事务
type DatabaseLockingStrategy struct {
	db    *gorm.DB
	owner string
	ttl   time.Duration
	clock clock.Clock
}

// NewDatabaseLockingStrategy 创建数据库锁策略，clk 为 nil 时使用系统时间
func NewDatabaseLockingStrategy(db *gorm.DB, owner string, ttl time.Duration, clk clock.Clock) *DatabaseLockingStrategy {
	if clk == nil {
		clk = clock.Real()
	}
	return &DatabaseLockingStrategy{db: db, owner: owner, ttl: ttl, clock: clk}
}

// Owner 锁持有者标识
func (s *DatabaseLockingStrategy) Owner() string { return s.owner }

// Acquire 尝试获取锁：先接管已过期的锁，不存在时再插入
func (s *DatabaseLockingStrategy) Acquire(ctx context.Context, name string) (bool, error) {
	now := s.clock.Now().UTC()
	db := s.db.WithContext(ctx)

	result := db.Model(&model.LockRecord{}).
		Where("name = ? AND expires_at <= ?", name, now).
		Updates(map[string]any{
			"owner":       s.owner,
			"acquired_at": now,
			"expires_at":  now.Add(s.ttl),
		})
	if result.Error != nil {
		return false, fmt.Errorf("接管过期锁失败: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	result = db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.LockRecord{
		Name:       name,
		Owner:      s.owner,
		AcquiredAt: now,
		ExpiresAt:  now.Add(s.ttl),
	})
	if result.Error != nil {
		return false, fmt.Errorf("插入锁记录失败: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Release 删除自己持有的锁记录
func (s *DatabaseLockingStrategy) Release(ctx context.Context, name string) error {
	err := s.db.WithContext(ctx).
		Where("name = ? AND owner = ?", name, s.owner).
		Delete(&model.LockRecord{}).Error
	if err != nil {
		return fmt.Errorf("释放数据库锁失败: %w", err)
	}
	return nil
}
