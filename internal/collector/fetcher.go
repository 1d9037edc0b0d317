package collector

import (
	"context"
	"time"
)

// FeedItem 解析后的单个 RSS/Atom 条目
type FeedItem struct {
	Title   string
	Link    string
	PubDate string // 源中原始的时间字符串，可能为空
	// 解析出的时间，无法解析时为零值（排序时视为最旧）
	PublishedAt time.Time
	Author      string
	Content     string
	UID         string
}

// FeedSource 抓取并解析一个订阅地址
type FeedSource interface {
	Fetch(ctx context.Context, feedURL string) ([]FeedItem, error)
}

// ContentEnricher 抓取原文页面并抽取正文；任何失败或正文过短都返回 ok=false
type ContentEnricher interface {
	Extract(ctx context.Context, pageURL string) (text string, ok bool)
}
