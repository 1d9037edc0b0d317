package collector

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/LJTian/RSSDigest/internal/processor"
	"github.com/mmcdole/gofeed"
)

// RSSSource 基于 gofeed 的 FeedSource 实现，兼容 RSS / Atom / JSON Feed
type RSSSource struct {
	Client    *http.Client
	UserAgent string
}

func NewRSSSource(timeout time.Duration, userAgent string) *RSSSource {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &RSSSource{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: userAgent,
	}
}

func (s *RSSSource) Fetch(ctx context.Context, feedURL string) ([]FeedItem, error) {
	fp := gofeed.NewParser()
	fp.Client = s.Client
	if s.UserAgent != "" {
		fp.UserAgent = s.UserAgent
	}

	feed, err := fp.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	items := make([]FeedItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		title := strings.TrimSpace(it.Title)
		link := strings.TrimSpace(it.Link)

		items = append(items, FeedItem{
			Title:       title,
			Link:        link,
			PubDate:     firstNonEmpty(it.Published, it.Updated),
			PublishedAt: publishedAt(it),
			Author:      author(it),
			Content:     firstNonEmpty(it.Content, it.Description),
			UID:         processor.StableUID(it.GUID, link, title),
		})
	}
	return items, nil
}

func publishedAt(it *gofeed.Item) time.Time {
	if it.PublishedParsed != nil {
		return *it.PublishedParsed
	}
	if it.UpdatedParsed != nil {
		return *it.UpdatedParsed
	}
	return time.Time{}
}

func author(it *gofeed.Item) string {
	if it.Author != nil && it.Author.Name != "" {
		return it.Author.Name
	}
	for _, a := range it.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	if it.DublinCoreExt != nil && len(it.DublinCoreExt.Creator) > 0 {
		return it.DublinCoreExt.Creator[0]
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
