package report

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/LJTian/RSSDigest/internal/config"
	"github.com/LJTian/RSSDigest/internal/notifier"
	"github.com/LJTian/RSSDigest/internal/processor"
	"github.com/LJTian/RSSDigest/internal/storage"
	"github.com/LJTian/RSSDigest/internal/summarizer"
)

// EmptyDigest 窗口内没有文章时的汇总内容
const EmptyDigest = "该时间段内没有新的文章。"

const (
	topFeeds        = 6
	previewArticles = 5
)

type Store interface {
	ListInRange(ctx context.Context, start, end time.Time) ([]storage.Article, error)
	UpsertReport(ctx context.Context, r *storage.Report) (uint, error)
}

// Deps 与 pipeline.Factory 共用同一实现
type Deps interface {
	Summarizer(cfg config.AIConfig) summarizer.Summarizer
	Notifiers(cfg config.Config) []notifier.Channel
}

type Builder struct {
	settings func() config.Config
	store    Store
	deps     Deps
	log      *slog.Logger
	now      func() time.Time
}

func NewBuilder(settings func() config.Config, store Store, deps Deps, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{settings: settings, store: store, deps: deps, log: logger, now: time.Now}
}

// RunScheduled 定时触发：生成最近一个完整窗口的报表，错误只记日志
func (b *Builder) RunScheduled(ctx context.Context, kind Kind) {
	if _, err := b.Generate(ctx, kind, ScheduledWindow(kind, b.now())); err != nil {
		b.log.Error("scheduled report failed", "kind", kind, "err", err)
	}
}

// RunCurrent 为当前进行中的窗口生成一次报表，启用某类报表时调用
func (b *Builder) RunCurrent(ctx context.Context, kind Kind) {
	if _, err := b.Generate(ctx, kind, CurrentWindow(kind, b.now())); err != nil {
		b.log.Error("current-window report failed", "kind", kind, "err", err)
	}
}

// feedCount 单个来源在窗口内的文章数
type feedCount struct {
	Feed  string
	Count int
}

// Generate 查询窗口内文章 -> AI 或兜底汇总 -> 落库（同窗口覆盖）-> 推送
func (b *Builder) Generate(ctx context.Context, kind Kind, w Window) (*storage.Report, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	cfg := b.settings()
	log := b.log.With("kind", kind, "start", w.Start.In(Beijing).Format(time.RFC3339))

	log.Debug("report state", "state", "querying")
	articles, err := b.store.ListInRange(ctx, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}

	feeds := countFeeds(articles)
	digest := EmptyDigest
	if len(articles) > 0 {
		digest = fallbackDigest(kind, w, articles, feeds)
		if ai := b.deps.Summarizer(cfg.AI); ai != nil {
			log.Debug("report state", "state", "ai-digest")
			text, usage, err := ai.Digest(ctx, reportSystemPrompt(cfg), userPrompt(cfg, kind, w, articles, feeds),
				time.Duration(config.ClampReportTimeout(cfg.Reports.TimeoutSeconds))*time.Second)
			if err != nil {
				log.Warn("ai report digest failed, using fallback", "err", err)
			} else {
				digest = text
				log.Info("ai report digest done", "tokens", usage.TotalTokens)
			}
		}
	}

	log.Debug("report state", "state", "persisting")
	r := &storage.Report{
		Kind:         string(kind),
		WindowStart:  w.Start,
		WindowEnd:    w.End,
		Title:        Title(kind, w),
		Digest:       digest,
		ArticleCount: len(articles),
	}
	if _, err := b.store.UpsertReport(ctx, r); err != nil {
		return nil, err
	}

	if cfg.Reports.Notify {
		log.Debug("report state", "state", "notifying")
		channels := b.deps.Notifiers(cfg)
		if len(channels) > 0 {
			sent := notifier.Broadcast(ctx, channels, r.Title+"\n\n"+r.Digest)
			log.Info("report pushed", "channels", len(channels), "ok", sent)
		}
	}

	log.Info("report generated", "id", r.ID, "articles", r.ArticleCount)
	return r, nil
}

// Title 报表标题
func Title(kind Kind, w Window) string {
	start := w.Start.In(Beijing)
	if kind == Daily {
		return fmt.Sprintf("RSS-AI 每日汇总（%s）", start.Format("2006-01-02"))
	}
	return fmt.Sprintf("RSS-AI 小时汇总（%s - %s）", start.Format("2006-01-02 15:04"), w.End.In(Beijing).Format("15:04"))
}

func timeframe(w Window) string {
	const layout = "2006-01-02 15:04"
	return fmt.Sprintf("%s - %s 北京时间", w.Start.In(Beijing).Format(layout), w.End.In(Beijing).Format(layout))
}

// countFeeds 按文章数倒序，数量相同按名称排序
func countFeeds(articles []storage.Article) []feedCount {
	counts := map[string]int{}
	for _, a := range articles {
		counts[feedName(a.FeedURL)]++
	}
	out := make([]feedCount, 0, len(counts))
	for f, n := range counts {
		out = append(out, feedCount{Feed: f, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Feed < out[j].Feed
	})
	return out
}

func feedName(feedURL string) string {
	if u, err := url.Parse(feedURL); err == nil && u.Host != "" {
		return u.Host
	}
	return feedURL
}

func fallbackDigest(kind Kind, w Window, articles []storage.Article, feeds []feedCount) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 RSS-AI %s\n", kind.Label())
	fmt.Fprintf(&b, "时间范围：%s\n", timeframe(w))
	fmt.Fprintf(&b, "共 %d 篇文章\n", len(articles))

	b.WriteString("\n来源分布：\n")
	for i, f := range feeds {
		if i >= topFeeds {
			break
		}
		fmt.Fprintf(&b, "- %s：%d 篇\n", f.Feed, f.Count)
	}

	b.WriteString("\n文章速览：\n")
	for i, a := range articles {
		if i >= previewArticles {
			break
		}
		fmt.Fprintf(&b, "%d. %s：%s\n", i+1, a.Title, processor.TruncateRunes(processor.CollapseSpace(a.SummaryText), 80))
	}
	return strings.TrimRight(b.String(), "\n")
}

func reportSystemPrompt(cfg config.Config) string {
	if cfg.Reports.SystemPrompt != "" {
		return cfg.Reports.SystemPrompt
	}
	return config.DefaultReportSystemPrompt
}

func userPrompt(cfg config.Config, kind Kind, w Window, articles []storage.Article, feeds []feedCount) string {
	tpl := cfg.Reports.UserPromptTemplate
	if tpl == "" {
		tpl = config.DefaultReportUserPrompt
	}

	stats := make([]string, 0, len(feeds))
	for _, f := range feeds {
		stats = append(stats, fmt.Sprintf("- %s：%d 篇", f.Feed, f.Count))
	}

	limit := kind.maxDetailLines()
	details := make([]string, 0, limit)
	for i, a := range articles {
		if i >= limit {
			details = append(details, fmt.Sprintf("……其余 %d 篇略", len(articles)-limit))
			break
		}
		details = append(details, fmt.Sprintf("%d. [%s] %s\n   %s\n   %s",
			i+1, feedName(a.FeedURL), a.Title,
			processor.TruncateRunes(processor.CollapseSpace(a.SummaryText), 200), a.Link))
	}

	return summarizer.Render(tpl, map[string]string{
		"label":           kind.Label(),
		"timeframe":       timeframe(w),
		"article_count":   fmt.Sprintf("%d", len(articles)),
		"feed_stats":      strings.Join(stats, "\n"),
		"article_details": strings.Join(details, "\n"),
	})
}
