package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/pu-ac-cn/uac-ticket/internal/clock"
	"github.com/pu-ac-cn/uac-ticket/internal/lock"
	"github.com/pu-ac-cn/uac-ticket/internal/model"
	"github.com/pu-ac-cn/uac-ticket/internal/repository"
	"go.uber.org/zap"
)

// CleanerState 清理器所处阶段
type CleanerState int32

const (
	CleanerIdle CleanerState = iota
	CleanerAcquiringLock
	CleanerScanning
	CleanerReaping
	CleanerReleasingLock
)

func (s CleanerState) String() string {
	switch s {
	case CleanerIdle:
		return "idle"
	case CleanerAcquiringLock:
		return "acquiring_lock"
	case CleanerScanning:
		return "scanning"
	case CleanerReaping:
		return "reaping"
	case CleanerReleasingLock:
		return "releasing_lock"
	default:
		return "unknown"
	}
}

// PassResult 一次清理的结果
type PassResult struct {
	Scanned    int       `json:"scanned"`
	Reaped     int       `json:"reaped"`
	Skipped    bool      `json:"skipped"` // 未获得锁
	Errors     []error   `json:"-"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Err 合并本次清理的全部错误，没有错误时为 nil
func (r *PassResult) Err() error {
	return errors.Join(r.Errors...)
}

// Duration 本次清理耗时
func (r *PassResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ReapingError 单个票据的清理错误，不会中断本次清理
type ReapingError struct {
	TicketID string
	Op       string
	Err      error
}

func (e *ReapingError) Error() string {
	return fmt.Sprintf("%s 票据 %s 失败: %v", e.Op, e.TicketID, e.Err)
}

func (e *ReapingError) Unwrap() error { return e.Err }

// TicketRegistryCleaner 票据注册表清理器
type TicketRegistryCleaner interface {
	// RunPass 执行一次完整清理：加锁、扫描、删除、释放锁
	RunPass(ctx context.Context) *PassResult
	// State 当前阶段
	State() CleanerState
}

// NoOpTicketRegistryCleaner 清理被禁用时使用，不做任何事
type NoOpTicketRegistryCleaner struct {
	clock clock.Clock
}

// NewNoOpTicketRegistryCleaner 创建空清理器
func NewNoOpTicketRegistryCleaner(clk clock.Clock) *NoOpTicketRegistryCleaner {
	if clk == nil {
		clk = clock.Real()
	}
	return &NoOpTicketRegistryCleaner{clock: clk}
}

// RunPass 返回空结果
func (c *NoOpTicketRegistryCleaner) RunPass(context.Context) *PassResult {
	now := c.clock.Now()
	return &PassResult{StartedAt: now, FinishedAt: now}
}

// State 恒为 idle
func (c *NoOpTicketRegistryCleaner) State() CleanerState { return CleanerIdle }

// TicketRegistryCleanerConfig 清理器配置
type TicketRegistryCleanerConfig struct {
	LockName            string        // 默认 ticket-registry-cleaner
	ConsumedGracePeriod time.Duration // 已使用 ST 的保留时间
	Clock               clock.Clock
	Logger              *zap.Logger
}

// DefaultTicketRegistryCleaner 在集群锁保护下删除过期票据
type DefaultTicketRegistryCleaner struct {
	registry repository.TicketRegistry
	locking  lock.LockingStrategy
	reaper   *ticketReaper
	config   *TicketRegistryCleanerConfig
	state    atomic.Int32
}

// NewTicketRegistryCleaner 创建清理器
func NewTicketRegistryCleaner(registry repository.TicketRegistry, locking lock.LockingStrategy, notifier LogoutNotifier, config *TicketRegistryCleanerConfig) *DefaultTicketRegistryCleaner {
	if config == nil {
		config = &TicketRegistryCleanerConfig{}
	}
	if config.LockName == "" {
		config.LockName = "ticket-registry-cleaner"
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
	return &DefaultTicketRegistryCleaner{
		registry: registry,
		locking:  locking,
		reaper:   &ticketReaper{registry: registry, notifier: notifier, logger: config.Logger},
		config:   config,
	}
}

// State 当前阶段
func (c *DefaultTicketRegistryCleaner) State() CleanerState {
	return CleanerState(c.state.Load())
}

func (c *DefaultTicketRegistryCleaner) setState(s CleanerState) {
	c.state.Store(int32(s))
}

// RunPass 执行一次清理
// 未获得锁时返回 Skipped 且没有错误；锁在任何情况下都会被释放
func (c *DefaultTicketRegistryCleaner) RunPass(ctx context.Context) *PassResult {
	logger := c.config.Logger
	result := &PassResult{StartedAt: c.config.Clock.Now()}
	defer func() {
		result.FinishedAt = c.config.Clock.Now()
		c.setState(CleanerIdle)
	}()

	c.setState(CleanerAcquiringLock)
	err := lock.WithLock(ctx, c.locking, c.config.LockName, func(ctx context.Context) error {
		defer c.setState(CleanerReleasingLock)
		c.clean(ctx, result)
		return nil
	})

	switch {
	case errors.Is(err, lock.ErrLockUnavailable):
		result.Skipped = true
		logger.Debug("清理锁被其他节点持有，跳过本次清理", zap.String("lock", c.config.LockName))
		return result
	case err != nil:
		result.Errors = append(result.Errors, err)
		logger.Error("票据清理失败", zap.String("lock", c.config.LockName), zap.Error(err))
	}

	if len(result.Errors) > 0 {
		logger.Warn("票据清理完成，存在错误",
			zap.Int("scanned", result.Scanned),
			zap.Int("reaped", result.Reaped),
			zap.Error(result.Err()),
		)
		return result
	}
	logger.Info("票据清理完成",
		zap.Int("scanned", result.Scanned),
		zap.Int("reaped", result.Reaped),
		zap.Duration("duration", c.config.Clock.Now().Sub(result.StartedAt)),
	)
	return result
}

// clean 扫描并删除过期票据，单个票据的错误追加到 result 后继续
func (c *DefaultTicketRegistryCleaner) clean(ctx context.Context, result *PassResult) {
	c.setState(CleanerScanning)

	tickets, err := c.registry.GetTickets(ctx)
	if err != nil {
		if !errors.Is(err, repository.ErrTicketDecode) {
			result.Errors = append(result.Errors, fmt.Errorf("枚举票据失败: %w", err))
			return
		}
		// 无法解码的票据跳过，其余票据照常处理
		result.Errors = append(result.Errors, &ReapingError{Op: "decode", Err: err})
	}
	result.Scanned = len(tickets)

	p := &cleanPass{
		ctx:      ctx,
		registry: c.registry,
		index:    newTicketIndex(tickets),
		now:      c.config.Clock.Now(),
		grace:    c.config.ConsumedGracePeriod,
		expired:  make(map[string]bool),
		removed:  make(map[string]struct{}),
	}

	var grantingTickets []*model.TicketGrantingTicket
	var serviceTickets []*model.ServiceTicket
	for _, ticket := range tickets {
		switch t := ticket.(type) {
		case *model.TicketGrantingTicket:
			if p.ticketGrantingTicketExpired(t) {
				grantingTickets = append(grantingTickets, t)
			}
		case *model.ServiceTicket:
			serviceTickets = append(serviceTickets, t)
		}
	}

	// 先处理靠近根的票据，子孙随祖先一起删除
	sort.Slice(grantingTickets, func(i, j int) bool {
		di, dj := p.depth(grantingTickets[i]), p.depth(grantingTickets[j])
		if di != dj {
			return di < dj
		}
		return grantingTickets[i].TicketID() < grantingTickets[j].TicketID()
	})
	sort.Slice(serviceTickets, func(i, j int) bool {
		return serviceTickets[i].TicketID() < serviceTickets[j].TicketID()
	})

	c.setState(CleanerReaping)

	for _, tgt := range grantingTickets {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("清理被中断: %w", err))
			return
		}
		if _, ok := p.removed[tgt.TicketID()]; ok {
			continue
		}
		attempted, deleted, errs := c.reaper.reap(ctx, tgt, p.index)
		for _, id := range attempted {
			p.removed[id] = struct{}{}
		}
		result.Reaped += deleted
		result.Errors = append(result.Errors, errs...)
	}

	for _, st := range serviceTickets {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("清理被中断: %w", err))
			return
		}
		if _, ok := p.removed[st.TicketID()]; ok {
			continue
		}
		if !p.serviceTicketExpired(st) {
			continue
		}
		p.removed[st.TicketID()] = struct{}{}

		deleted, err := c.registry.DeleteTicket(ctx, st.TicketID())
		if err != nil {
			result.Errors = append(result.Errors, &ReapingError{TicketID: st.TicketID(), Op: "delete", Err: err})
			continue
		}
		if deleted {
			result.Reaped++
		}
	}
}

// ticketIndex 一次扫描得到的票据快照
type ticketIndex struct {
	tickets  map[string]model.Ticket
	children map[string][]string // 父票据 ID -> 子票据 ID
}

func newTicketIndex(tickets []model.Ticket) *ticketIndex {
	index := &ticketIndex{
		tickets:  make(map[string]model.Ticket, len(tickets)),
		children: make(map[string][]string),
	}
	for _, ticket := range tickets {
		index.tickets[ticket.TicketID()] = ticket
		if parent := parentOf(ticket); parent != "" {
			index.children[parent] = append(index.children[parent], ticket.TicketID())
		}
	}
	return index
}

func parentOf(ticket model.Ticket) string {
	switch t := ticket.(type) {
	case *model.TicketGrantingTicket:
		return t.ParentID
	case *model.ServiceTicket:
		return t.TicketGrantingTicketID
	default:
		return ""
	}
}

// cleanPass 单次清理过程中的中间状态
type cleanPass struct {
	ctx      context.Context
	registry repository.TicketRegistry
	index    *ticketIndex
	now      time.Time
	grace    time.Duration
	expired  map[string]bool
	removed  map[string]struct{}
}

// parent 查找父 TGT；missing 为 true 表示确认不存在
// 快照中没有时回查注册表，查询失败视为存在但状态未知
func (p *cleanPass) parent(id string) (tgt *model.TicketGrantingTicket, missing bool) {
	ticket, ok := p.index.tickets[id]
	if !ok {
		var err error
		ticket, err = p.registry.GetTicket(p.ctx, id)
		if errors.Is(err, repository.ErrTicketNotFound) {
			return nil, true
		}
		if err != nil {
			return nil, false
		}
	}
	tgt, ok = ticket.(*model.TicketGrantingTicket)
	return tgt, !ok
}

// ticketGrantingTicketExpired 自身过期、被失效，或祖先链上任一票据过期或缺失
func (p *cleanPass) ticketGrantingTicketExpired(tgt *model.TicketGrantingTicket) bool {
	id := tgt.TicketID()
	if expired, ok := p.expired[id]; ok {
		return expired
	}
	// 成环的数据视为过期
	p.expired[id] = true

	expired := tgt.IsExpired(p.now)
	if !expired && !tgt.IsRoot() {
		parent, missing := p.parent(tgt.ParentID)
		switch {
		case missing:
			expired = true
		case parent != nil:
			expired = p.ticketGrantingTicketExpired(parent)
		}
	}
	p.expired[id] = expired
	return expired
}

// serviceTicketExpired 自身过期、已使用且超过保留时间，或父 TGT 过期或缺失
func (p *cleanPass) serviceTicketExpired(st *model.ServiceTicket) bool {
	if st.IsExpired(p.now) || st.ConsumedGraceElapsed(p.grace, p.now) {
		return true
	}
	parent, missing := p.parent(st.TicketGrantingTicketID)
	if missing {
		return true
	}
	return parent != nil && p.ticketGrantingTicketExpired(parent)
}

// depth 票据在代理链上的深度，根 TGT 为 0
func (p *cleanPass) depth(tgt *model.TicketGrantingTicket) int {
	depth := 0
	for current := tgt; !current.IsRoot() && depth < maxProxyChainDepth; depth++ {
		parent, ok := p.index.tickets[current.ParentID].(*model.TicketGrantingTicket)
		if !ok {
			return depth + 1
		}
		current = parent
	}
	return depth
}

const maxProxyChainDepth = 64

// ticketReaper 先发送单点登出通知，再删除 TGT 及其全部后代
// 清理器与主动登出共用
type ticketReaper struct {
	registry repository.TicketRegistry
	notifier LogoutNotifier
	logger   *zap.Logger
}

// reap 返回尝试删除的票据 ID、实际删除的数量以及各票据的错误
// index 为 nil 时只沿 TGT 自身记录的 ST / PGT 查找后代
func (r *ticketReaper) reap(ctx context.Context, tgt *model.TicketGrantingTicket, index *ticketIndex) (attempted []string, deleted int, errs []error) {
	session := r.session(ctx, tgt, index)
	descendants := session.Descendants

	if err := r.notifier.Notify(ctx, session); err != nil {
		r.logger.Warn("单点登出通知失败",
			zap.String("tgt_id", tgt.TicketID()),
			zap.Error(err),
		)
	}

	// 由叶子到根删除
	attempted = make([]string, 0, len(descendants)+1)
	for i := len(descendants) - 1; i >= 0; i-- {
		attempted = append(attempted, descendants[i])
	}
	attempted = append(attempted, tgt.TicketID())

	for _, id := range attempted {
		ok, err := r.registry.DeleteTicket(ctx, id)
		if err != nil {
			errs = append(errs, &ReapingError{TicketID: id, Op: "delete", Err: err})
			continue
		}
		if ok {
			deleted++
		}
	}

	if len(errs) == 0 {
		r.logger.Debug("会话票据已删除",
			zap.String("tgt_id", tgt.TicketID()),
			zap.Int("descendants", len(descendants)),
		)
	}
	return attempted, deleted, errs
}

// session 广度优先收集全部后代 ID，以及根 TGT 和各级 PGT 签发过的服务
func (r *ticketReaper) session(ctx context.Context, root *model.TicketGrantingTicket, index *ticketIndex) *LogoutSession {
	var result []string
	services := make(map[string]string)
	seen := map[string]struct{}{root.TicketID(): {}}
	queue := []*model.TicketGrantingTicket{root}

	for len(queue) > 0 {
		tgt := queue[0]
		queue = queue[1:]

		for id, service := range tgt.ServiceMap() {
			services[id] = service
		}
		ids := tgt.Descendants()
		if index != nil {
			ids = append(ids, index.children[tgt.TicketID()]...)
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			result = append(result, id)

			if child := r.proxyGrantingTicket(ctx, id, index); child != nil {
				queue = append(queue, child)
				continue
			}
			// 只出现在快照中的 ST
			if index != nil {
				if st, ok := index.tickets[id].(*model.ServiceTicket); ok {
					if _, known := services[id]; !known {
						services[id] = st.Service
					}
				}
			}
		}
	}
	return &LogoutSession{
		TicketGrantingTicket: root,
		Descendants:          result,
		Services:             services,
	}
}

func (r *ticketReaper) proxyGrantingTicket(ctx context.Context, id string, index *ticketIndex) *model.TicketGrantingTicket {
	if index != nil {
		if ticket, ok := index.tickets[id]; ok {
			tgt, _ := ticket.(*model.TicketGrantingTicket)
			return tgt
		}
	}
	if !hasPrefix(id, model.PrefixProxyGrantingTicket) {
		return nil
	}
	ticket, err := r.registry.GetTicket(ctx, id)
	if err != nil {
		return nil
	}
	tgt, _ := ticket.(*model.TicketGrantingTicket)
	return tgt
}

func hasPrefix(id, prefix string) bool {
	return len(id) > len(prefix) && id[:len(prefix)] == prefix && id[len(prefix)] == '-'
}
