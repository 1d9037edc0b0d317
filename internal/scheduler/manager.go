package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/LJTian/RSSDigest/internal/config"
	"github.com/LJTian/RSSDigest/internal/report"
)

// ReportRunner 报表生成入口
type ReportRunner interface {
	RunScheduled(ctx context.Context, kind report.Kind)
	RunCurrent(ctx context.Context, kind report.Kind)
}

// Manager 持有进程内全部调度器：一个抓取调度器 + 每类报表一个对齐调度器。
// 配置变更统一经 Apply 生效。
type Manager struct {
	ctx     context.Context
	log     *slog.Logger
	fetch   *IntervalScheduler
	reports ReportRunner

	mu      sync.Mutex
	aligned map[report.Kind]*AlignedScheduler
}

func NewManager(ctx context.Context, fetchTask Task, reports ReportRunner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		ctx:     ctx,
		log:     logger,
		fetch:   NewIntervalScheduler(ctx, "fetch", MinutesPeriod(1), fetchTask, logger),
		reports: reports,
		aligned: make(map[report.Kind]*AlignedScheduler),
	}
}

// Apply 按配置启动 / 调整 / 停止各调度器
func (m *Manager) Apply(cfg config.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	period := MinutesPeriod(cfg.Fetch.IntervalMinutes)
	switch {
	case !m.fetch.Running():
		m.fetch.UpdateInterval(period)
		m.fetch.Start()
	case m.fetch.Period() != period:
		m.log.Info("fetch interval changed", "from", m.fetch.Period(), "to", period)
		m.fetch.UpdateInterval(period)
	}

	enabled := map[report.Kind]bool{
		report.Hourly: cfg.Reports.HourlyEnabled,
		report.Daily:  cfg.Reports.DailyEnabled,
	}
	for _, kind := range report.Kinds {
		s, exists := m.aligned[kind]
		switch {
		case enabled[kind] && !exists:
			m.enableLocked(kind)
		case enabled[kind] && !s.Running():
			// 边界计算失败退出过，重建
			delete(m.aligned, kind)
			m.enableLocked(kind)
		case !enabled[kind] && exists:
			s.Stop()
			delete(m.aligned, kind)
			m.log.Info("report scheduler disabled", "kind", kind)
		}
	}
}

func (m *Manager) enableLocked(kind report.Kind) {
	next, err := CronBoundary(kind.CronSpec(), report.Beijing)
	if err != nil {
		m.log.Error("report scheduler not created", "kind", kind, "err", err)
		return
	}
	s := NewAlignedScheduler(m.ctx, "report:"+string(kind), next, func(ctx context.Context) {
		m.reports.RunScheduled(ctx, kind)
	}, m.log)

	// 启用时先为当前窗口生成一次，不必等满一个周期
	m.reports.RunCurrent(m.ctx, kind)
	s.Start()
	m.aligned[kind] = s
	m.log.Info("report scheduler enabled", "kind", kind)
}

// Stop 停止全部调度器
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetch.Stop()
	for kind, s := range m.aligned {
		s.Stop()
		delete(m.aligned, kind)
	}
}

// Status 调度器状态
type Status struct {
	FetchRunning       bool     `json:"fetchRunning"`
	FetchPeriodMinutes int      `json:"fetchPeriodMinutes"`
	Reports            []string `json:"reports"`
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		FetchRunning:       m.fetch.Running(),
		FetchPeriodMinutes: int(m.fetch.Period().Minutes()),
		Reports:            []string{},
	}
	for kind, s := range m.aligned {
		if s.Running() {
			st.Reports = append(st.Reports, string(kind))
		}
	}
	sort.Strings(st.Reports)
	return st
}
