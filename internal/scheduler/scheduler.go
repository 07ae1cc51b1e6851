// Package scheduler 周期性驱动票据清理
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pu-ac-cn/uac-ticket/internal/clock"
	"github.com/pu-ac-cn/uac-ticket/internal/service"
	"go.uber.org/zap"
)

// ErrAlreadyStarted 调度器重复启动
var ErrAlreadyStarted = errors.New("调度器已启动")

// 默认调度参数
const (
	DefaultStartDelay     = 20 * time.Second
	DefaultRepeatInterval = 60 * time.Second
)

// Scheduler 清理调度器，每个进程一个
// 间隔从上一次清理结束开始计算，同一进程内的清理不会重叠
type Scheduler struct {
	cleaner    service.TicketRegistryCleaner
	startDelay time.Duration
	interval   time.Duration
	clock      clock.Clock
	logger     *zap.Logger

	// running 保证同一时刻只有一次清理
	running sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   *service.PassResult
}

// New 创建调度器
func New(cleaner service.TicketRegistryCleaner, startDelay, interval time.Duration, clk clock.Clock, logger *zap.Logger) *Scheduler {
	if startDelay < 0 {
		startDelay = DefaultStartDelay
	}
	if interval <= 0 {
		interval = DefaultRepeatInterval
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cleaner:    cleaner,
		startDelay: startDelay,
		interval:   interval,
		clock:      clk,
		logger:     logger,
	}
}

// Start 启动后台调度，ctx 取消或调用 Stop 时退出
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	s.logger.Info("票据清理调度器已启动",
		zap.Duration("start_delay", s.startDelay),
		zap.Duration("repeat_interval", s.interval),
	)
	return nil
}

// Stop 停止调度并等待正在进行的清理结束
// 清理中途被取消时锁仍会释放
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("票据清理调度器已停止")
}

// Trigger 立即执行一次清理
// 已有清理在进行时不等待，返回 false
func (s *Scheduler) Trigger(ctx context.Context) (*service.PassResult, bool) {
	if !s.running.TryLock() {
		return nil, false
	}
	defer s.running.Unlock()
	return s.run(ctx), true
}

// LastResult 最近一次清理的结果，尚未执行过时为 nil
func (s *Scheduler) LastResult() *service.PassResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Interval 清理间隔
func (s *Scheduler) Interval() time.Duration { return s.interval }

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	delay := s.startDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(delay):
		}

		// 手动触发的清理尚未结束时排队等待
		s.running.Lock()
		if ctx.Err() == nil {
			s.run(ctx)
		}
		s.running.Unlock()

		delay = s.interval
	}
}

// run 执行一次清理，panic 会被记录下来，下一次调度即为重试
func (s *Scheduler) run(ctx context.Context) (result *service.PassResult) {
	startedAt := s.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("票据清理发生 panic",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			result = &service.PassResult{
				Errors:     []error{fmt.Errorf("清理 panic: %v", r)},
				StartedAt:  startedAt,
				FinishedAt: s.clock.Now(),
			}
		}

		s.mu.Lock()
		s.last = result
		s.mu.Unlock()
	}()

	return s.cleaner.RunPass(ctx)
}
