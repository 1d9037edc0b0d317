package notifier

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/LJTian/RSSDigest/internal/processor"
)

// FormatArticle 单条文章推送文案；HTML 模式用于 Telegram
func FormatArticle(s processor.Summary, mode Mode) string {
	meta := metaLine(s.PubDate, s.Author)

	var b strings.Builder
	if mode == ModeHTML {
		b.WriteString("<b>" + html.EscapeString(s.Title) + "</b>\n")
		if s.Link != "" {
			b.WriteString(`<a href="` + html.EscapeString(s.Link) + `">原文链接</a>` + "\n")
		}
		if meta != "" {
			b.WriteString(html.EscapeString(meta) + "\n")
		}
		b.WriteString("\n")
		// 先截断再拼接，保证实体与标签完整
		budget := TelegramMaxRunes - utf8.RuneCountInString(b.String())
		b.WriteString(escapeWithin(s.SummaryText, budget))
		return b.String()
	}

	b.WriteString("【" + s.Title + "】\n")
	if s.Link != "" {
		b.WriteString(s.Link + "\n")
	}
	if meta != "" {
		b.WriteString(meta + "\n")
	}
	b.WriteString("\n" + s.SummaryText)
	return b.String()
}

// escapeWithin HTML 转义 s，结果不超过 limit 个 rune；超出时在实体边界截断并追加省略号
func escapeWithin(s string, limit int) string {
	escaped := html.EscapeString(s)
	if utf8.RuneCountInString(escaped) <= limit {
		return escaped
	}
	if limit <= 1 {
		return ""
	}
	var b strings.Builder
	n := 0
	for _, r := range s {
		e := html.EscapeString(string(r))
		w := utf8.RuneCountInString(e)
		if n+w > limit-1 {
			break
		}
		b.WriteString(e)
		n += w
	}
	b.WriteString("…")
	return b.String()
}

func metaLine(pubDate, author string) string {
	var parts []string
	if pubDate != "" {
		parts = append(parts, "发布时间："+pubDate)
	}
	if author != "" {
		parts = append(parts, "作者："+author)
	}
	return strings.Join(parts, " | ")
}
