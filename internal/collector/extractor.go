package collector

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/LJTian/RSSDigest/internal/processor"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"
)

// MinTextRunes 正文少于该长度视为抽取失败
const MinTextRunes = 80

// 常见博客/新闻站点的正文容器，readability 失败时按顺序尝试
var contentSelectors = []string{
	"article",
	"main",
	"[itemprop=articleBody]",
	".post-content",
	".entry-content",
	".article-content",
	"#content",
}

// PageExtractor 用 colly 抓取原文页，readability 抽取正文，goquery 启发式兜底
type PageExtractor struct {
	Timeout   time.Duration
	UserAgent string
	Logger    *slog.Logger
}

func NewPageExtractor(timeout time.Duration, userAgent string, logger *slog.Logger) *PageExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageExtractor{Timeout: timeout, UserAgent: userAgent, Logger: logger}
}

func (e *PageExtractor) Extract(ctx context.Context, pageURL string) (string, bool) {
	if ctx.Err() != nil || strings.TrimSpace(pageURL) == "" {
		return "", false
	}

	body, finalURL, err := e.fetch(pageURL)
	if err != nil {
		e.Logger.Debug("article page fetch failed", "link", pageURL, "err", err)
		return "", false
	}

	text := extractText(body, finalURL)
	if utf8.RuneCountInString(text) < MinTextRunes {
		e.Logger.Debug("article page text too short", "link", pageURL, "runes", utf8.RuneCountInString(text))
		return "", false
	}
	return text, true
}

func (e *PageExtractor) fetch(pageURL string) ([]byte, *url.URL, error) {
	// 每次新建 collector，避免 colly 的已访问去重拦截重复抓取
	c := colly.NewCollector()
	if e.UserAgent != "" {
		c.UserAgent = e.UserAgent
	}
	if e.Timeout > 0 {
		c.SetRequestTimeout(e.Timeout)
	}

	var (
		body     []byte
		finalURL *url.URL
	)
	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		finalURL = r.Request.URL
	})

	if err := c.Visit(pageURL); err != nil {
		return nil, nil, err
	}
	if finalURL == nil {
		finalURL, _ = url.Parse(pageURL)
	}
	return body, finalURL, nil
}

func extractText(body []byte, pageURL *url.URL) string {
	if len(body) == 0 {
		return ""
	}

	var best string
	if article, err := readability.FromReader(bytes.NewReader(body), pageURL); err == nil {
		best = processor.CollapseSpace(article.TextContent)
	}
	if utf8.RuneCountInString(best) >= MinTextRunes {
		return best
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return best
	}
	doc.Find("script, style, noscript, nav, footer, header").Remove()
	for _, sel := range contentSelectors {
		text := processor.CollapseSpace(doc.Find(sel).First().Text())
		if utf8.RuneCountInString(text) > utf8.RuneCountInString(best) {
			best = text
		}
	}
	return best
}
