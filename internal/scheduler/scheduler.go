package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task 调度执行的任务；ctx 只在进程退出时取消，停止调度不会打断正在执行的任务
type Task func(ctx context.Context)

// joinTimeout 停止时等待在途任务结束的上限
const joinTimeout = 2 * time.Second

// loop 一个后台 goroutine 的生命周期
type loop struct {
	stop chan struct{}
	done chan struct{}
}

func newLoop() *loop {
	return &loop{stop: make(chan struct{}), done: make(chan struct{})}
}

// halt 发出停止信号并等待退出，超时则放弃等待
func (l *loop) halt(timeout time.Duration) bool {
	close(l.stop)
	select {
	case <-l.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (l *loop) running() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// IntervalScheduler 先执行一次任务，再等待固定周期，如此循环直到停止
type IntervalScheduler struct {
	name string
	task Task
	ctx  context.Context
	log  *slog.Logger

	mu     sync.Mutex
	period time.Duration
	cur    *loop
}

func NewIntervalScheduler(ctx context.Context, name string, period time.Duration, task Task, logger *slog.Logger) *IntervalScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntervalScheduler{name: name, task: task, ctx: ctx, period: period, log: logger}
}

// MinutesPeriod 按分钟换算周期，至少 1 分钟
func MinutesPeriod(minutes int) time.Duration {
	if minutes < 1 {
		minutes = 1
	}
	return time.Duration(minutes) * time.Minute
}

// Start 已在运行时不做任何事
func (s *IntervalScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

func (s *IntervalScheduler) startLocked() {
	if s.cur != nil && s.cur.running() {
		return
	}
	l := newLoop()
	s.cur = l
	go s.run(l, s.period)
	s.log.Info("scheduler started", "name", s.name, "period", s.period)
}

func (s *IntervalScheduler) run(l *loop, period time.Duration) {
	defer close(l.done)
	for {
		runTask(s.ctx, s.log, s.name, s.task)

		timer := time.NewTimer(period)
		select {
		case <-l.stop:
			timer.Stop()
			return
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Stop 发出停止信号，并在有限时间内等待在途任务完成
func (s *IntervalScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *IntervalScheduler) stopLocked() {
	if s.cur == nil {
		return
	}
	if !s.cur.halt(joinTimeout) {
		s.log.Warn("scheduler stop timed out, task still running", "name", s.name)
	}
	s.cur = nil
	s.log.Info("scheduler stopped", "name", s.name)
}

// UpdateInterval 先停止再以新周期启动
func (s *IntervalScheduler) UpdateInterval(period time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasRunning := s.cur != nil
	s.period = period
	s.stopLocked()
	if wasRunning {
		s.startLocked()
	}
}

// Period 当前周期
func (s *IntervalScheduler) Period() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.period
}

// Running 是否在运行
func (s *IntervalScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil && s.cur.running()
}

// runTask 任务 panic 不应带走调度 goroutine
func runTask(ctx context.Context, logger *slog.Logger, name string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scheduled task panicked", "name", name, "panic", r)
		}
	}()
	start := time.Now()
	task(ctx)
	logger.Debug("scheduled task done", "name", name, "took", time.Since(start))
}
