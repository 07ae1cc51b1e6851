package model

import (
	"sort"
	"time"
)

// TicketGrantingTicket 票据授予票据（TGT）
// ParentID 非空时为代理授予票据（PGT），指向签发它的 TGT。
// 父子关系只保存 ID，票据本身由注册表按 ID 存储
type TicketGrantingTicket struct {
	BaseTicket

	Principal            string            `json:"principal" cbor:"principal"`
	ParentID             string            `json:"parent_id,omitempty" cbor:"parent_id,omitempty"`
	ProxiedBy            string            `json:"proxied_by,omitempty" cbor:"proxied_by,omitempty"`
	Services             map[string]string `json:"services,omitempty" cbor:"services,omitempty"`                             // ST ID -> 服务
	ProxyGrantingTickets map[string]string `json:"proxy_granting_tickets,omitempty" cbor:"proxy_granting_tickets,omitempty"` // PGT ID -> 代理服务
	Invalidated          bool              `json:"invalidated,omitempty" cbor:"invalidated,omitempty"`
}

// NewTicketGrantingTicket 为已认证主体创建 TGT
func NewTicketGrantingTicket(id, principal string, policy ExpirationPolicy, now time.Time) *TicketGrantingTicket {
	return &TicketGrantingTicket{
		BaseTicket: newBaseTicket(id, policy, now),
		Principal:  principal,
	}
}

// NewProxyGrantingTicket 由 parent 签发代理授予票据
func NewProxyGrantingTicket(id string, parent *TicketGrantingTicket, proxiedBy string, policy ExpirationPolicy, now time.Time) (*TicketGrantingTicket, error) {
	parent.mu.Lock()
	defer parent.mu.Unlock()

	if parent.expiredLocked(now) {
		return nil, expiredError(parent.ID)
	}
	if parent.ProxyGrantingTickets == nil {
		parent.ProxyGrantingTickets = make(map[string]string)
	}
	parent.ProxyGrantingTickets[id] = proxiedBy

	return &TicketGrantingTicket{
		BaseTicket: newBaseTicket(id, policy, now),
		Principal:  parent.Principal,
		ParentID:   parent.ID,
		ProxiedBy:  proxiedBy,
	}, nil
}

// Prefix 票据前缀
func (t *TicketGrantingTicket) Prefix() string {
	if t.IsRoot() {
		return PrefixTicketGrantingTicket
	}
	return PrefixProxyGrantingTicket
}

// IsRoot 是否为会话根票据
func (t *TicketGrantingTicket) IsRoot() bool {
	return t.ParentID == ""
}

// IsExpired 已被显式失效或过期策略触发时返回 true
func (t *TicketGrantingTicket) IsExpired(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expiredLocked(now)
}

func (t *TicketGrantingTicket) expiredLocked(now time.Time) bool {
	return t.Invalidated || t.Policy.IsExpired(t.stateLocked(), now)
}

// MarkUsed 更新最后使用时间
func (t *TicketGrantingTicket) MarkUsed(now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.expiredLocked(now) {
		return invalidStateError(t.ID)
	}
	t.markUsedLocked(now)
	return nil
}

// GrantServiceTicket 为 service 签发 ST，并记录到 Services 以便单点登出
func (t *TicketGrantingTicket) GrantServiceTicket(id, service string, policy ExpirationPolicy, now time.Time) (*ServiceTicket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.expiredLocked(now) {
		return nil, expiredError(t.ID)
	}

	// 首次签发的 ST 视为来自新登录
	fromNewLogin := t.CountOfUses == 0
	t.markUsedLocked(now)
	if t.Services == nil {
		t.Services = make(map[string]string)
	}
	t.Services[id] = service

	return &ServiceTicket{
		BaseTicket:             newBaseTicket(id, policy, now),
		TicketGrantingTicketID: t.ID,
		Service:                service,
		FromNewLogin:           fromNewLogin,
		Proxied:                !t.IsRoot(),
	}, nil
}

// Invalidate 显式失效（如登出），之后 IsExpired 恒为 true
func (t *TicketGrantingTicket) Invalidate() {
	t.mu.Lock()
	t.Invalidated = true
	t.mu.Unlock()
}

// Descendants 返回直接签发的 ST 与 PGT 的 ID，按字典序排列
func (t *TicketGrantingTicket) Descendants() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.Services)+len(t.ProxyGrantingTickets))
	for id := range t.Services {
		ids = append(ids, id)
	}
	for id := range t.ProxyGrantingTickets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ServiceMap 返回 Services 的副本
func (t *TicketGrantingTicket) ServiceMap() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	services := make(map[string]string, len(t.Services))
	for id, service := range t.Services {
		services[id] = service
	}
	return services
}
