package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LJTian/RSSDigest/internal/config"
	"github.com/LJTian/RSSDigest/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinutesPeriod(t *testing.T) {
	assert.Equal(t, time.Minute, MinutesPeriod(0))
	assert.Equal(t, time.Minute, MinutesPeriod(-5))
	assert.Equal(t, 10*time.Minute, MinutesPeriod(10))
}

func TestIntervalSchedulerRunsImmediatelyAndRepeats(t *testing.T) {
	var runs atomic.Int32
	s := NewIntervalScheduler(context.Background(), "test", 20*time.Millisecond, func(context.Context) {
		runs.Add(1)
	}, nil)

	s.Start()
	s.Start() // 重复启动无效果
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, s.Running())

	s.Stop()
	assert.False(t, s.Running())
	after := runs.Load()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after stop")
}

func TestIntervalSchedulerStopDuringLongWait(t *testing.T) {
	var runs atomic.Int32
	s := NewIntervalScheduler(context.Background(), "test", time.Hour, func(context.Context) { runs.Add(1) }, nil)
	s.Start()
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	s.Stop()
	assert.Less(t, time.Since(start), 500*time.Millisecond, "stop is honoured without waiting a full period")
}

func TestIntervalSchedulerUpdateInterval(t *testing.T) {
	var runs atomic.Int32
	s := NewIntervalScheduler(context.Background(), "test", time.Hour, func(context.Context) { runs.Add(1) }, nil)
	s.Start()
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.UpdateInterval(10 * time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, s.Period())
	require.Eventually(t, func() bool { return runs.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestIntervalSchedulerStopBoundedForStuckTask(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	s := NewIntervalScheduler(context.Background(), "stuck", time.Hour, func(context.Context) {
		close(started)
		<-release
	}, nil)
	s.Start()
	<-started

	begin := time.Now()
	s.Stop()
	elapsed := time.Since(begin)
	close(release)

	assert.GreaterOrEqual(t, elapsed, joinTimeout)
	assert.Less(t, elapsed, joinTimeout+time.Second)
}

func TestIntervalSchedulerSurvivesPanic(t *testing.T) {
	var runs atomic.Int32
	s := NewIntervalScheduler(context.Background(), "panic", 10*time.Millisecond, func(context.Context) {
		runs.Add(1)
		panic("boom")
	}, nil)
	s.Start()
	defer s.Stop()
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestCronBoundaryInBeijing(t *testing.T) {
	next, err := CronBoundary("0 0 * * *", report.Beijing)
	require.NoError(t, err)

	// 15:30 UTC = 23:30 北京时间，下一个零点是 16:00 UTC
	at, err := next(time.Date(2024, 5, 1, 15, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, at.Equal(time.Date(2024, 5, 1, 16, 0, 0, 0, time.UTC)), "got %s", at)

	hourly, err := CronBoundary("0 * * * *", report.Beijing)
	require.NoError(t, err)
	at, err = hourly(time.Date(2024, 5, 1, 10, 0, 0, 0, report.Beijing))
	require.NoError(t, err)
	assert.True(t, at.Equal(time.Date(2024, 5, 1, 11, 0, 0, 0, report.Beijing)), "exactly on a boundary moves to the next one")

	_, err = CronBoundary("not a spec", report.Beijing)
	assert.Error(t, err)
}

// 任务耗时超过到下一个边界的剩余时间时，下一次边界仍从“当前时间”计算，不会连续追赶执行
func TestAlignedSchedulerIsDriftFree(t *testing.T) {
	const step = 40 * time.Millisecond

	var mu sync.Mutex
	var nextCalls []time.Time
	var taskEnds []time.Time
	var runStarts []time.Time

	next := func(now time.Time) (time.Time, error) {
		mu.Lock()
		nextCalls = append(nextCalls, now)
		mu.Unlock()
		return now.Truncate(step).Add(step), nil
	}
	s := NewAlignedScheduler(context.Background(), "aligned", next, func(context.Context) {
		mu.Lock()
		runStarts = append(runStarts, time.Now())
		mu.Unlock()
		time.Sleep(step * 3 / 2)
		mu.Lock()
		taskEnds = append(taskEnds, time.Now())
		mu.Unlock()
	}, nil)

	s.Start()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(taskEnds) >= 3
	}, 3*time.Second, 5*time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	// 第 i 次任务结束之后才计算第 i+1 个边界
	for i := 0; i < len(taskEnds) && i+1 < len(nextCalls); i++ {
		assert.False(t, nextCalls[i+1].Before(taskEnds[i]), "boundary %d computed before task %d finished", i+1, i)
	}
	// 相邻两次执行间隔至少是任务耗时，不存在紧接着的“补跑”
	for i := 1; i < len(runStarts); i++ {
		assert.GreaterOrEqual(t, runStarts[i].Sub(runStarts[i-1]), step*3/2)
	}
}

func TestAlignedSchedulerExitsOnBoundaryError(t *testing.T) {
	var calls atomic.Int32
	s := NewAlignedScheduler(context.Background(), "broken", func(time.Time) (time.Time, error) {
		calls.Add(1)
		return time.Time{}, errors.New("no boundary")
	}, func(context.Context) { t.Error("task must not run") }, nil)

	s.Start()
	require.Eventually(t, func() bool { return !s.Running() }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load(), "no tight retry loop")
	s.Stop()
}

func TestAlignedSchedulerStopWhileWaiting(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), "wait", func(now time.Time) (time.Time, error) {
		return now.Add(time.Hour), nil
	}, func(context.Context) { t.Error("task must not run") }, nil)
	s.Start()
	assert.True(t, s.Running())

	start := time.Now()
	s.Stop()
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, s.Running())
}

type fakeReports struct {
	mu        sync.Mutex
	current   []report.Kind
	scheduled []report.Kind
}

func (f *fakeReports) RunScheduled(_ context.Context, kind report.Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, kind)
}

func (f *fakeReports) RunCurrent(_ context.Context, kind report.Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = append(f.current, kind)
}

func TestManagerApply(t *testing.T) {
	var fetches atomic.Int32
	reports := &fakeReports{}
	m := NewManager(context.Background(), func(context.Context) { fetches.Add(1) }, reports, nil)
	defer m.Stop()

	cfg := config.Default()
	cfg.Fetch.IntervalMinutes = 5
	cfg.Reports.HourlyEnabled = true
	m.Apply(cfg)

	require.Eventually(t, func() bool { return fetches.Load() == 1 }, time.Second, 5*time.Millisecond)
	st := m.Status()
	assert.True(t, st.FetchRunning)
	assert.Equal(t, 5, st.FetchPeriodMinutes)
	assert.Equal(t, []string{"hourly"}, st.Reports)
	assert.Equal(t, []report.Kind{report.Hourly}, reports.current, "enabling runs the current window once")

	// 再次应用相同配置不重复启用
	m.Apply(cfg)
	assert.Len(t, reports.current, 1)

	cfg.Fetch.IntervalMinutes = 7
	cfg.Reports.HourlyEnabled = false
	cfg.Reports.DailyEnabled = true
	m.Apply(cfg)

	st = m.Status()
	assert.Equal(t, 7, st.FetchPeriodMinutes)
	assert.Equal(t, []string{"daily"}, st.Reports)
	assert.Equal(t, []report.Kind{report.Hourly, report.Daily}, reports.current)

	m.Stop()
	st = m.Status()
	assert.False(t, st.FetchRunning)
	assert.Empty(t, st.Reports)
}
