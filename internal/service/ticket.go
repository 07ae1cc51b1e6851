// Package service 票据业务逻辑
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pu-ac-cn/uac-ticket/internal/clock"
	"github.com/pu-ac-cn/uac-ticket/internal/model"
	"github.com/pu-ac-cn/uac-ticket/internal/repository"
	"go.uber.org/zap"
)

var (
	ErrWrongTicketType     = errors.New("票据类型不匹配")
	ErrTicketNotValidated  = errors.New("Service Ticket 尚未通过校验")
	ErrProxyChainCorrupted = errors.New("代理链数据损坏")
)

// TicketService 票据签发与校验
type TicketService interface {
	// CreateTicketGrantingTicket 为已认证的主体创建 TGT
	CreateTicketGrantingTicket(ctx context.Context, principal string) (*model.TicketGrantingTicket, error)
	// GetTicketGrantingTicket 获取仍然有效的 TGT
	GetTicketGrantingTicket(ctx context.Context, tgtID string) (*model.TicketGrantingTicket, error)
	// GrantServiceTicket 由 TGT（或 PGT）为服务签发 ST（或 PT）
	GrantServiceTicket(ctx context.Context, tgtID, service string) (*model.ServiceTicket, error)
	// GrantProxyGrantingTicket 由已校验的 ST 为代理服务签发 PGT
	GrantProxyGrantingTicket(ctx context.Context, stID, proxyService string) (*model.TicketGrantingTicket, error)
	// ValidateServiceTicket 校验 ST，成功后 ST 不可再次使用
	ValidateServiceTicket(ctx context.Context, stID, service string) (*model.ServiceTicket, error)
	// DestroyTicketGrantingTicket 登出：通知服务并删除 TGT 及其全部后代
	DestroyTicketGrantingTicket(ctx context.Context, tgtID string) error
}

// TicketServiceConfig 票据服务配置
type TicketServiceConfig struct {
	TGTPolicy   model.ExpirationPolicy // 默认最长 8 小时，空闲 2 小时
	PGTPolicy   model.ExpirationPolicy // 默认同 TGT
	STPolicy    model.ExpirationPolicy // 默认 10 秒
	IDGenerator TicketIDGenerator
	Clock       clock.Clock
	Logger      *zap.Logger
}

type ticketService struct {
	registry repository.TicketRegistry
	reaper   *ticketReaper
	config   *TicketServiceConfig
}

// NewTicketService 创建票据服务
func NewTicketService(registry repository.TicketRegistry, notifier LogoutNotifier, config *TicketServiceConfig) TicketService {
	if config == nil {
		config = &TicketServiceConfig{}
	}
	if config.TGTPolicy.Kind == "" {
		config.TGTPolicy = model.TicketGrantingTicketPolicy(8*time.Hour, 2*time.Hour)
	}
	if config.PGTPolicy.Kind == "" {
		config.PGTPolicy = config.TGTPolicy
	}
	if config.STPolicy.Kind == "" {
		config.STPolicy = model.ServiceTicketPolicy(10 * time.Second)
	}
	if config.IDGenerator == nil {
		config.IDGenerator = NewTicketIDGenerator("")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NoOpLogoutNotifier{}
	}
	return &ticketService{
		registry: registry,
		reaper:   &ticketReaper{registry: registry, notifier: notifier, logger: config.Logger},
		config:   config,
	}
}

// CreateTicketGrantingTicket 创建 TGT
func (s *ticketService) CreateTicketGrantingTicket(ctx context.Context, principal string) (*model.TicketGrantingTicket, error) {
	if principal == "" {
		return nil, errors.New("主体不能为空")
	}

	id := s.config.IDGenerator.NewTicketID(model.PrefixTicketGrantingTicket)
	tgt := model.NewTicketGrantingTicket(id, principal, s.config.TGTPolicy, s.config.Clock.Now())
	if err := s.registry.AddTicket(ctx, tgt); err != nil {
		return nil, fmt.Errorf("存储 TGT 失败: %w", err)
	}
	return tgt, nil
}

// GetTicketGrantingTicket 获取 TGT，自身或祖先过期时返回 ErrTicketExpired
func (s *ticketService) GetTicketGrantingTicket(ctx context.Context, tgtID string) (*model.TicketGrantingTicket, error) {
	return s.liveTicketGrantingTicket(ctx, tgtID, s.config.Clock.Now())
}

// GrantServiceTicket 签发 ST
// TGT 上的 ST 记录通过 ModifyTicket 原子写入，并发签发不会互相覆盖
func (s *ticketService) GrantServiceTicket(ctx context.Context, tgtID, service string) (*model.ServiceTicket, error) {
	if service == "" {
		return nil, errors.New("服务不能为空")
	}

	now := s.config.Clock.Now()
	tgt, err := s.liveTicketGrantingTicket(ctx, tgtID, now)
	if err != nil {
		return nil, err
	}

	prefix := model.PrefixServiceTicket
	if !tgt.IsRoot() {
		prefix = model.PrefixProxyTicket
	}
	id := s.config.IDGenerator.NewTicketID(prefix)

	var st *model.ServiceTicket
	_, err = s.registry.ModifyTicket(ctx, tgtID, func(ticket model.Ticket) error {
		current, ok := ticket.(*model.TicketGrantingTicket)
		if !ok {
			return fmt.Errorf("%s: %w", tgtID, ErrWrongTicketType)
		}
		st, err = current.GrantServiceTicket(id, service, s.config.STPolicy, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.registry.AddTicket(ctx, st); err != nil {
		return nil, fmt.Errorf("存储 ST 失败: %w", err)
	}
	if err := s.ensureParentAlive(ctx, st, tgtID, now); err != nil {
		return nil, err
	}
	return st, nil
}

// GrantProxyGrantingTicket 签发 PGT，ST 必须已通过校验
func (s *ticketService) GrantProxyGrantingTicket(ctx context.Context, stID, proxyService string) (*model.TicketGrantingTicket, error) {
	if proxyService == "" {
		return nil, errors.New("代理服务不能为空")
	}

	ticket, err := s.registry.GetTicket(ctx, stID)
	if err != nil {
		return nil, err
	}
	st, ok := ticket.(*model.ServiceTicket)
	if !ok {
		return nil, fmt.Errorf("%s: %w", stID, ErrWrongTicketType)
	}
	if !st.IsConsumed() {
		return nil, fmt.Errorf("%s: %w", stID, ErrTicketNotValidated)
	}

	now := s.config.Clock.Now()
	parentID := st.TicketGrantingTicketID
	if _, err := s.liveTicketGrantingTicket(ctx, parentID, now); err != nil {
		return nil, err
	}

	id := s.config.IDGenerator.NewTicketID(model.PrefixProxyGrantingTicket)
	var pgt *model.TicketGrantingTicket
	_, err = s.registry.ModifyTicket(ctx, parentID, func(ticket model.Ticket) error {
		parent, ok := ticket.(*model.TicketGrantingTicket)
		if !ok {
			return fmt.Errorf("%s: %w", parentID, ErrWrongTicketType)
		}
		pgt, err = model.NewProxyGrantingTicket(id, parent, proxyService, s.config.PGTPolicy, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.registry.AddTicket(ctx, pgt); err != nil {
		return nil, fmt.Errorf("存储 PGT 失败: %w", err)
	}
	if err := s.ensureParentAlive(ctx, pgt, parentID, now); err != nil {
		return nil, err
	}
	return pgt, nil
}

// ensureParentAlive 子票据写入后复查父票据
// 父票据在写入前已被登出时，登出流程看不到该子票据，由这里撤销
func (s *ticketService) ensureParentAlive(ctx context.Context, child model.Ticket, parentID string, now time.Time) error {
	_, err := s.liveTicketGrantingTicket(ctx, parentID, now)
	if err == nil {
		return nil
	}
	if _, delErr := s.registry.DeleteTicket(ctx, child.TicketID()); delErr != nil {
		s.config.Logger.Warn("撤销票据失败", zap.String("ticket_id", child.TicketID()), zap.Error(delErr))
	}
	if errors.Is(err, repository.ErrTicketNotFound) {
		return fmt.Errorf("%s: %w", parentID, model.ErrTicketExpired)
	}
	return err
}

// ValidateServiceTicket 校验 ST
// 父 TGT 已过期或不存在时返回 ErrTicketExpired，且不会消耗 ST
// 消耗标记通过 ModifyTicket 原子写回，并发校验只有一次成功
func (s *ticketService) ValidateServiceTicket(ctx context.Context, stID, service string) (*model.ServiceTicket, error) {
	ticket, err := s.registry.GetTicket(ctx, stID)
	if err != nil {
		return nil, err
	}
	st, ok := ticket.(*model.ServiceTicket)
	if !ok {
		return nil, fmt.Errorf("%s: %w", stID, ErrWrongTicketType)
	}

	now := s.config.Clock.Now()
	if _, err := s.liveTicketGrantingTicket(ctx, st.TicketGrantingTicketID, now); err != nil {
		if errors.Is(err, repository.ErrTicketNotFound) {
			return nil, fmt.Errorf("%s: %w", stID, model.ErrTicketExpired)
		}
		return nil, err
	}

	validated, err := s.registry.ModifyTicket(ctx, stID, func(ticket model.Ticket) error {
		current, ok := ticket.(*model.ServiceTicket)
		if !ok {
			return fmt.Errorf("%s: %w", stID, ErrWrongTicketType)
		}
		return current.Validate(service, now)
	})
	if err != nil {
		return nil, err
	}
	return validated.(*model.ServiceTicket), nil
}

// DestroyTicketGrantingTicket 登出
// 先持久化失效标记，之后的签发都会失败；删除中途失败时剩余票据也会被清理器回收
func (s *ticketService) DestroyTicketGrantingTicket(ctx context.Context, tgtID string) error {
	ticket, err := s.registry.ModifyTicket(ctx, tgtID, func(ticket model.Ticket) error {
		tgt, ok := ticket.(*model.TicketGrantingTicket)
		if !ok {
			return fmt.Errorf("%s: %w", tgtID, ErrWrongTicketType)
		}
		tgt.Invalidate()
		return nil
	})
	if err != nil {
		return err
	}

	_, _, errs := s.reaper.reap(ctx, ticket.(*model.TicketGrantingTicket), nil)
	return errors.Join(errs...)
}

// liveTicketGrantingTicket 读取 TGT 并检查整条代理链
func (s *ticketService) liveTicketGrantingTicket(ctx context.Context, tgtID string, now time.Time) (*model.TicketGrantingTicket, error) {
	var tgt *model.TicketGrantingTicket
	id := tgtID
	for depth := 0; ; depth++ {
		if depth > maxProxyChainDepth {
			return nil, fmt.Errorf("%s: %w", tgtID, ErrProxyChainCorrupted)
		}

		ticket, err := s.registry.GetTicket(ctx, id)
		if err != nil {
			if depth > 0 && errors.Is(err, repository.ErrTicketNotFound) {
				// 祖先已被删除，整个会话失效
				return nil, fmt.Errorf("%s: %w", tgtID, model.ErrTicketExpired)
			}
			return nil, err
		}
		current, ok := ticket.(*model.TicketGrantingTicket)
		if !ok {
			return nil, fmt.Errorf("%s: %w", id, ErrWrongTicketType)
		}
		if current.IsExpired(now) {
			return nil, fmt.Errorf("%s: %w", tgtID, model.ErrTicketExpired)
		}
		if tgt == nil {
			tgt = current
		}
		if current.IsRoot() {
			return tgt, nil
		}
		id = current.ParentID
	}
}
