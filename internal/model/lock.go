package model

import "time"

// LockRecord 集群锁记录
// 同一个锁名同一时刻最多只有一条未过期记录
type LockRecord struct {
	Name       string    `json:"name" gorm:"type:varchar(128);primaryKey"`
	Owner      string    `json:"owner" gorm:"type:varchar(255);not null"`
	AcquiredAt time.Time `json:"acquired_at" gorm:"not null"`
	ExpiresAt  time.Time `json:"expires_at" gorm:"index;not null"`
}

// TableName 表名
func (LockRecord) TableName() string {
	return "locks"
}

// IsExpired 检查锁是否过期
func (l *LockRecord) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}
