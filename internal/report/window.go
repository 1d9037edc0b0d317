package report

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Beijing 报表窗口统一按东八区计算，与宿主机时区无关
var Beijing = time.FixedZone("CST", 8*60*60)

var (
	ErrUnknownKind   = errors.New("unknown report kind")
	ErrInvalidWindow = errors.New("report window end must be after start")
)

type Kind string

const (
	Hourly Kind = "hourly"
	Daily  Kind = "daily"
)

// Kinds 所有支持的报表类型
var Kinds = []Kind{Hourly, Daily}

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Hourly, Daily:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Period 窗口长度
func (k Kind) Period() time.Duration {
	if k == Daily {
		return 24 * time.Hour
	}
	return time.Hour
}

// CronSpec 窗口边界对应的 cron 表达式（在东八区下解释）
func (k Kind) CronSpec() string {
	if k == Daily {
		return "0 0 * * *"
	}
	return "0 * * * *"
}

func (k Kind) Label() string {
	if k == Daily {
		return "日报"
	}
	return "小时报"
}

// maxDetailLines 提示词中最多列出的文章数
func (k Kind) maxDetailLines() int {
	if k == Daily {
		return 50
	}
	return 30
}

// Window 半开区间 [Start, End)
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) Validate() error {
	if !w.End.After(w.Start) {
		return ErrInvalidWindow
	}
	return nil
}

// floor 把时间向下取整到东八区的整点 / 零点
func floor(k Kind, t time.Time) time.Time {
	t = t.In(Beijing)
	if k == Daily {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Beijing)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, Beijing)
}

// ScheduledWindow 定时触发时的窗口：以最近越过的边界为结束
func ScheduledWindow(k Kind, now time.Time) Window {
	end := floor(k, now)
	return Window{Start: end.Add(-k.Period()), End: end}
}

// CurrentWindow 当前正在进行中的窗口
func CurrentWindow(k Kind, now time.Time) Window {
	start := floor(k, now)
	return Window{Start: start, End: start.Add(k.Period())}
}

// ResolveWindow 解析按需生成的窗口：start/end 为 RFC3339，需同时给出或同时省略；
// 省略时取 now 之前最近一个完整窗口
func ResolveWindow(k Kind, start, end string, now time.Time) (Window, error) {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" && end == "" {
		return ScheduledWindow(k, now), nil
	}
	if start == "" || end == "" {
		return Window{}, fmt.Errorf("%w: start and end must be given together", ErrInvalidWindow)
	}
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return Window{}, fmt.Errorf("%w: start: %v", ErrInvalidWindow, err)
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return Window{}, fmt.Errorf("%w: end: %v", ErrInvalidWindow, err)
	}
	w := Window{Start: s, End: e}
	return w, w.Validate()
}
