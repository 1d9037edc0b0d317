package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// NextFunc 根据当前时间计算下一个对齐边界
type NextFunc func(now time.Time) (time.Time, error)

// CronBoundary 用 cron 表达式在指定时区下计算边界，例如 "0 * * * *" 表示每个整点
func CronBoundary(spec string, loc *time.Location) (NextFunc, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	return func(now time.Time) (time.Time, error) {
		next := sched.Next(now.In(loc))
		if next.IsZero() {
			return time.Time{}, errors.New("no next boundary for " + spec)
		}
		return next, nil
	}, nil
}

// AlignedScheduler 在日历对齐的边界执行任务；每次执行后都从“当前时间”重新计算下一个边界，
// 任务耗时不会累积漂移，也不会为了追赶而连续执行
type AlignedScheduler struct {
	name string
	next NextFunc
	task Task
	ctx  context.Context
	log  *slog.Logger
	now  func() time.Time

	mu  sync.Mutex
	cur *loop
}

func NewAlignedScheduler(ctx context.Context, name string, next NextFunc, task Task, logger *slog.Logger) *AlignedScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlignedScheduler{name: name, next: next, task: task, ctx: ctx, log: logger, now: time.Now}
}

// Start 已在运行时不做任何事
func (s *AlignedScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil && s.cur.running() {
		return
	}
	l := newLoop()
	s.cur = l
	go s.run(l)
}

func (s *AlignedScheduler) run(l *loop) {
	defer close(l.done)
	for {
		at, err := s.next(s.now())
		if err != nil {
			s.log.Error("compute next boundary failed, scheduler exits", "name", s.name, "err", err)
			return
		}
		s.log.Debug("next aligned run", "name", s.name, "at", at)

		wait := at.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-l.stop:
			timer.Stop()
			return
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		runTask(s.ctx, s.log, s.name, s.task)
	}
}

// Stop 发出停止信号，并在有限时间内等待在途任务完成
func (s *AlignedScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return
	}
	if !s.cur.halt(joinTimeout) {
		s.log.Warn("scheduler stop timed out, task still running", "name", s.name)
	}
	s.cur = nil
}

// Running 是否在运行；边界计算失败退出后返回 false
func (s *AlignedScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil && s.cur.running()
}
