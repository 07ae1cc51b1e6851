package model

import "time"

// PolicyKind 过期策略类型
type PolicyKind string

const (
	PolicyNever       PolicyKind = "never"        // 永不过期
	PolicyAlways      PolicyKind = "always"       // 总是过期
	PolicyTimeToIdle  PolicyKind = "time_to_idle" // 空闲超时
	PolicyHardTimeout PolicyKind = "hard_timeout" // 最长存活时间
	PolicyAny         PolicyKind = "any"          // 任一子策略过期即过期
)

// TicketState 过期策略评估所需的票据时间戳
type TicketState interface {
	CreationTime() time.Time
	LastTimeUsed() time.Time
}

// ExpirationPolicy 票据过期策略
// 构造后不可变，可在同类票据之间共享，也可随票据一起序列化
type ExpirationPolicy struct {
	Kind       PolicyKind         `json:"kind" cbor:"kind"`
	TimeToIdle time.Duration      `json:"time_to_idle,omitempty" cbor:"time_to_idle,omitempty"`
	TimeToLive time.Duration      `json:"time_to_live,omitempty" cbor:"time_to_live,omitempty"`
	Policies   []ExpirationPolicy `json:"policies,omitempty" cbor:"policies,omitempty"`
}

// NeverExpires 永不过期策略
func NeverExpires() ExpirationPolicy {
	return ExpirationPolicy{Kind: PolicyNever}
}

// AlwaysExpires 总是过期策略
func AlwaysExpires() ExpirationPolicy {
	return ExpirationPolicy{Kind: PolicyAlways}
}

// TimeToIdle 空闲超时策略：距最后一次使用超过 idle 即过期
func TimeToIdle(idle time.Duration) ExpirationPolicy {
	return ExpirationPolicy{Kind: PolicyTimeToIdle, TimeToIdle: idle}
}

// HardTimeout 硬超时策略：距创建超过 ttl 即过期，与使用情况无关
func HardTimeout(ttl time.Duration) ExpirationPolicy {
	return ExpirationPolicy{Kind: PolicyHardTimeout, TimeToLive: ttl}
}

// AnyOf 组合策略：任一子策略过期即过期
func AnyOf(policies ...ExpirationPolicy) ExpirationPolicy {
	children := make([]ExpirationPolicy, len(policies))
	copy(children, policies)
	return ExpirationPolicy{Kind: PolicyAny, Policies: children}
}

// TicketGrantingTicketPolicy TGT 默认策略：最长存活时间 + 空闲超时
func TicketGrantingTicketPolicy(maxLifetime, idle time.Duration) ExpirationPolicy {
	return AnyOf(HardTimeout(maxLifetime), TimeToIdle(idle))
}

// ServiceTicketPolicy ST 默认策略：短硬超时，单次使用由 consumed 标记保证
func ServiceTicketPolicy(ttl time.Duration) ExpirationPolicy {
	return HardTimeout(ttl)
}

// IsExpired 评估票据在 now 时刻是否过期
// 未使用过的票据以创建时间作为最后使用时间
func (p ExpirationPolicy) IsExpired(state TicketState, now time.Time) bool {
	switch p.Kind {
	case PolicyNever:
		return false
	case PolicyTimeToIdle:
		lastUsed := state.LastTimeUsed()
		if lastUsed.IsZero() {
			lastUsed = state.CreationTime()
		}
		return now.Sub(lastUsed) > p.TimeToIdle
	case PolicyHardTimeout:
		return now.Sub(state.CreationTime()) > p.TimeToLive
	case PolicyAny:
		for _, child := range p.Policies {
			if child.IsExpired(state, now) {
				return true
			}
		}
		return false
	default:
		// always 以及未知类型一律视为过期
		return true
	}
}

// MaxLifetime 返回策略中最长的硬超时时间，0 表示没有硬上限
func (p ExpirationPolicy) MaxLifetime() time.Duration {
	switch p.Kind {
	case PolicyHardTimeout:
		return p.TimeToLive
	case PolicyAny:
		var longest time.Duration
		for _, child := range p.Policies {
			if d := child.MaxLifetime(); d > longest {
				longest = d
			}
		}
		return longest
	default:
		return 0
	}
}

// String 返回策略的可读描述
func (p ExpirationPolicy) String() string {
	switch p.Kind {
	case PolicyTimeToIdle:
		return "time_to_idle(" + p.TimeToIdle.String() + ")"
	case PolicyHardTimeout:
		return "hard_timeout(" + p.TimeToLive.String() + ")"
	case PolicyAny:
		s := "any("
		for i, child := range p.Policies {
			if i > 0 {
				s += ", "
			}
			s += child.String()
		}
		return s + ")"
	default:
		return string(p.Kind)
	}
}
