package model

import (
	"fmt"
	"time"
)

// ServiceTicket 服务票据（ST），单次使用，只绑定一个服务
type ServiceTicket struct {
	BaseTicket

	TicketGrantingTicketID string    `json:"tgt_id" cbor:"tgt_id"`
	Service                string    `json:"service" cbor:"service"`
	FromNewLogin           bool      `json:"from_new_login,omitempty" cbor:"from_new_login,omitempty"`
	Proxied                bool      `json:"proxied,omitempty" cbor:"proxied,omitempty"`
	Consumed               bool      `json:"consumed" cbor:"consumed"`
	ConsumedAt             time.Time `json:"consumed_at,omitempty" cbor:"consumed_at,omitempty"`
}

// Prefix 票据前缀
func (s *ServiceTicket) Prefix() string {
	if s.Proxied {
		return PrefixProxyTicket
	}
	return PrefixServiceTicket
}

// IsExpired 仅评估自身策略，父 TGT 的状态由调用方按 ID 查询
func (s *ServiceTicket) IsExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Policy.IsExpired(s.stateLocked(), now)
}

// MarkUsed 更新最后使用时间
func (s *ServiceTicket) MarkUsed(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Policy.IsExpired(s.stateLocked(), now) {
		return invalidStateError(s.ID)
	}
	s.markUsedLocked(now)
	return nil
}

// Validate 校验 ST 并标记为已使用
// 并发调用时只有一次能够成功
func (s *ServiceTicket) Validate(service string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Service != service {
		return fmt.Errorf("%s: %w: 期望 %s, 实际 %s", s.ID, ErrServiceMismatch, s.Service, service)
	}
	if s.Consumed {
		return fmt.Errorf("%s: %w", s.ID, ErrTicketAlreadyConsumed)
	}
	if s.Policy.IsExpired(s.stateLocked(), now) {
		return expiredError(s.ID)
	}

	s.Consumed = true
	s.ConsumedAt = now
	s.markUsedLocked(now)
	return nil
}

// IsConsumed 是否已被使用
func (s *ServiceTicket) IsConsumed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Consumed
}

// ConsumedGraceElapsed 已使用且距使用时间超过 grace
func (s *ServiceTicket) ConsumedGraceElapsed(grace time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Consumed && now.Sub(s.ConsumedAt) >= grace
}
