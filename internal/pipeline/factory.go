package pipeline

import (
	"log/slog"
	"time"

	"github.com/LJTian/RSSDigest/internal/collector"
	"github.com/LJTian/RSSDigest/internal/config"
	"github.com/LJTian/RSSDigest/internal/notifier"
	"github.com/LJTian/RSSDigest/internal/summarizer"
)

// Factory 按当前配置构建外部依赖，配置修改后下一轮即生效
type Factory interface {
	FeedSource(cfg config.FetchConfig) collector.FeedSource
	// 返回 nil 表示不抓取原文
	Enricher(cfg config.FetchConfig) collector.ContentEnricher
	// 返回 nil 表示未启用 AI
	Summarizer(cfg config.AIConfig) summarizer.Summarizer
	Notifiers(cfg config.Config) []notifier.Channel
}

// DefaultFactory 生产环境使用的实现
type DefaultFactory struct {
	Logger *slog.Logger
}

func (f DefaultFactory) FeedSource(cfg config.FetchConfig) collector.FeedSource {
	return collector.NewRSSSource(time.Duration(cfg.FeedTimeoutSeconds)*time.Second, cfg.UserAgent)
}

func (f DefaultFactory) Enricher(cfg config.FetchConfig) collector.ContentEnricher {
	if !cfg.UseArticlePage {
		return nil
	}
	timeout := time.Duration(cfg.ArticleTimeoutSeconds) * time.Second
	page := collector.NewPageExtractor(timeout, cfg.UserAgent, f.Logger)
	if cfg.BrowserScraperURL == "" {
		return page
	}
	return collector.Chain{page, collector.NewBrowserExtractor(cfg.BrowserScraperURL, timeout, f.Logger)}
}

func (f DefaultFactory) Summarizer(cfg config.AIConfig) summarizer.Summarizer {
	return summarizer.FromConfig(cfg, f.Logger)
}

func (f DefaultFactory) Notifiers(cfg config.Config) []notifier.Channel {
	return notifier.FromConfig(cfg, f.Logger)
}
