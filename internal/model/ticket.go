// Package model 数据模型定义
package model

import (
	"fmt"
	"sync"
	"time"
)

// 票据前缀
const (
	PrefixTicketGrantingTicket = "TGT"
	PrefixProxyGrantingTicket  = "PGT"
	PrefixServiceTicket        = "ST"
	PrefixProxyTicket          = "PT"
)

// 票据类型，用于持久化时区分具体结构
const (
	KindTicketGrantingTicket = "tgt"
	KindServiceTicket        = "st"
)

// Ticket 票据通用接口
type Ticket interface {
	TicketState

	// TicketID 票据 ID
	TicketID() string
	// Prefix 票据前缀，如 TGT、ST
	Prefix() string
	// UsageCount 使用次数
	UsageCount() int
	// Expiration 创建时绑定的过期策略
	Expiration() ExpirationPolicy
	// IsExpired 票据在 now 时刻是否过期
	IsExpired(now time.Time) bool
	// MarkUsed 记录一次使用，票据已过期时返回 ErrInvalidTicketState
	MarkUsed(now time.Time) error
}

// BaseTicket 票据公共字段
type BaseTicket struct {
	ID          string           `json:"id" cbor:"id"`
	CreatedAt   time.Time        `json:"created_at" cbor:"created_at"`
	LastUsedAt  time.Time        `json:"last_used_at,omitempty" cbor:"last_used_at,omitempty"`
	CountOfUses int              `json:"count_of_uses" cbor:"count_of_uses"`
	Policy      ExpirationPolicy `json:"expiration_policy" cbor:"expiration_policy"`

	mu sync.Mutex
}

func newBaseTicket(id string, policy ExpirationPolicy, now time.Time) BaseTicket {
	return BaseTicket{ID: id, CreatedAt: now, Policy: policy}
}

// TicketID 票据 ID
func (t *BaseTicket) TicketID() string { return t.ID }

// CreationTime 创建时间
func (t *BaseTicket) CreationTime() time.Time { return t.CreatedAt }

// LastTimeUsed 最后使用时间，未使用过时为零值
func (t *BaseTicket) LastTimeUsed() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.LastUsedAt
}

// UsageCount 使用次数
func (t *BaseTicket) UsageCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CountOfUses
}

// Expiration 过期策略
func (t *BaseTicket) Expiration() ExpirationPolicy { return t.Policy }

// stateLocked 调用方必须持有 t.mu
func (t *BaseTicket) stateLocked() TicketState {
	return lockedState{created: t.CreatedAt, lastUsed: t.LastUsedAt}
}

// markUsedLocked 调用方必须持有 t.mu
func (t *BaseTicket) markUsedLocked(now time.Time) {
	t.LastUsedAt = now
	t.CountOfUses++
}

// lockedState 持锁期间读取到的时间戳快照
type lockedState struct {
	created  time.Time
	lastUsed time.Time
}

func (s lockedState) CreationTime() time.Time { return s.created }
func (s lockedState) LastTimeUsed() time.Time { return s.lastUsed }

func expiredError(id string) error {
	return fmt.Errorf("%s: %w", id, ErrTicketExpired)
}

func invalidStateError(id string) error {
	return fmt.Errorf("%s: %w: 票据已过期", id, ErrInvalidTicketState)
}
