package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/LJTian/RSSDigest/internal/collector"
	"github.com/LJTian/RSSDigest/internal/config"
	"github.com/LJTian/RSSDigest/internal/notifier"
	"github.com/LJTian/RSSDigest/internal/processor"
	"github.com/LJTian/RSSDigest/internal/storage"
	"github.com/LJTian/RSSDigest/internal/summarizer"
	"gorm.io/datatypes"
)

// Store pipeline 依赖的存储能力
type Store interface {
	Exists(ctx context.Context, feedURL, itemUID string) (bool, error)
	InsertArticle(ctx context.Context, a *storage.Article) (uint, bool, error)
	Prune(ctx context.Context, maxItems int) (int64, error)
}

// Options 单次运行参数
type Options struct {
	// Force 跳过入库前的存在性检查，重复仍由存储层唯一约束拦截
	Force bool
}

type Pipeline struct {
	settings func() config.Config
	store    Store
	factory  Factory
	log      *slog.Logger
	now      func() time.Time
}

func New(settings func() config.Config, store Store, factory Factory, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{settings: settings, store: store, factory: factory, log: logger, now: time.Now}
}

// run 一次运行期间使用的依赖快照
type run struct {
	cfg      config.Config
	source   collector.FeedSource
	enricher collector.ContentEnricher
	ai       summarizer.Summarizer
	channels []notifier.Channel
	gate     *processor.KeywordGate
	opts     Options
	stats    *RunStats
}

// Run 按配置顺序处理所有订阅源。单个源或单条目的失败只计数，不会中断整轮。
func (p *Pipeline) Run(ctx context.Context, opts Options) RunStats {
	cfg := p.settings()
	stats := RunStats{
		Feeds:       len(cfg.Fetch.Feeds),
		FailedFeeds: []string{},
		StartedAt:   p.now(),
	}
	r := &run{
		cfg:      cfg,
		source:   p.factory.FeedSource(cfg.Fetch),
		enricher: p.factory.Enricher(cfg.Fetch),
		ai:       p.factory.Summarizer(cfg.AI),
		channels: p.factory.Notifiers(cfg),
		gate:     processor.NewKeywordGate(cfg.Fetch.FilterKeywords, cfg.Fetch.KeywordCaseSensitive),
		opts:     opts,
		stats:    &stats,
	}
	stats.KeywordsEnabled = r.gate.Enabled()

	p.log.Info("start fetch job", "feeds", stats.Feeds, "force", opts.Force, "ai", r.ai != nil)
	for _, feedURL := range cfg.Fetch.Feeds {
		if ctx.Err() != nil {
			p.log.Warn("fetch job cancelled", "err", ctx.Err())
			break
		}
		p.runFeed(ctx, r, feedURL)
	}
	stats.FinishedAt = p.now()

	p.pushDigest(ctx, r)
	p.log.Info("fetch job done",
		"processed", stats.Processed, "new", stats.New, "duplicates", stats.Duplicates,
		"failed", stats.Failed, "failed_feeds", len(stats.FailedFeeds),
		"took", stats.FinishedAt.Sub(stats.StartedAt))
	return stats
}

func (p *Pipeline) runFeed(ctx context.Context, r *run, feedURL string) {
	items, err := r.source.Fetch(ctx, feedURL)
	if err != nil {
		p.log.Warn("fetch feed failed", "feed", feedURL, "err", err)
		r.stats.FailedFeeds = append(r.stats.FailedFeeds, feedURL)
		return
	}
	r.stats.Fetched += len(items)

	items = latest(items, r.cfg.Fetch.PerFeedLimit)
	for _, it := range items {
		if ctx.Err() != nil {
			return
		}
		p.processItem(ctx, r, feedURL, it)
	}
}

// latest 按发布时间倒序（无时间的排最后），保留最新的 limit 条
func latest(items []collector.FeedItem, limit int) []collector.FeedItem {
	sorted := make([]collector.FeedItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PublishedAt.After(sorted[j].PublishedAt)
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

func (p *Pipeline) processItem(ctx context.Context, r *run, feedURL string, it collector.FeedItem) {
	stats := r.stats
	stats.Processed++
	log := p.log.With("feed", feedURL, "link", it.Link)

	if !r.opts.Force {
		exists, err := p.store.Exists(ctx, feedURL, it.UID)
		if err != nil {
			log.Error("check exists failed", "err", err)
			stats.Failed++
			return
		}
		if exists {
			stats.Duplicates++
			return
		}
	}

	var enriched string
	if r.enricher != nil && it.Link != "" {
		if text, ok := r.enricher.Extract(ctx, it.Link); ok {
			enriched = text
		} else {
			log.Debug("article page unavailable, using feed content")
		}
	}

	passed, matched := r.gate.Match(it.Title, it.Author, it.Content, enriched)

	content := it.Content
	if enriched != "" {
		content = enriched
	}
	item := processor.Item{
		Title:   it.Title,
		Link:    it.Link,
		PubDate: it.PubDate,
		Author:  it.Author,
		Content: content,
	}

	var sum processor.Summary
	if passed && r.ai != nil {
		stats.AICalls++
		s, usage, err := r.ai.Summarize(ctx, item)
		stats.addUsage(usage)
		if err != nil {
			stats.AIFailed++
			log.Warn("ai summary failed, using fallback", "err", err)
			sum = processor.FallbackSummary(item)
		} else {
			stats.AISucceeded++
			sum = s
		}
	} else {
		sum = processor.FallbackSummary(item)
	}
	sum.Link = it.Link

	if matched == nil {
		matched = []string{}
	}
	article := &storage.Article{
		FeedURL:         feedURL,
		ItemUID:         it.UID,
		Title:           firstNonEmpty(sum.Title, it.Title),
		Link:            it.Link,
		PubDate:         firstNonEmpty(sum.PubDate, it.PubDate),
		Author:          firstNonEmpty(sum.Author, it.Author),
		SummaryText:     sum.SummaryText,
		MatchedKeywords: datatypes.JSONSlice[string](matched),
	}

	_, inserted, err := p.store.InsertArticle(ctx, article)
	if err != nil {
		log.Error("insert article failed", "err", err)
		stats.Failed++
		return
	}
	if !inserted {
		stats.Duplicates++
		return
	}
	stats.New++
	if len(matched) > 0 {
		stats.KeywordArticles++
		stats.KeywordHits += len(matched)
	}

	if _, err := p.store.Prune(ctx, r.cfg.Fetch.MaxItems); err != nil {
		log.Warn("prune failed", "err", err)
	}

	if !passed {
		return
	}
	for _, ch := range r.channels {
		if ch.Send(ctx, notifier.FormatArticle(sum, ch.Mode), ch.Mode) {
			stats.Notified++
		} else {
			log.Warn("notify failed", "channel", ch.Name())
		}
	}
}

func (p *Pipeline) pushDigest(ctx context.Context, r *run) {
	var text string
	for _, ch := range r.channels {
		if !ch.PushSummary {
			continue
		}
		if text == "" {
			text = r.stats.Digest()
		}
		if !ch.Send(ctx, text, notifier.ModePlain) {
			p.log.Warn("push run digest failed", "channel", ch.Name())
		}
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
