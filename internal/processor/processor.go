package processor

import (
	"crypto/sha1"
	"encoding/hex"
	"html"
	"regexp"
	"strings"
)

const (
	// FallbackMaxRunes 兜底摘要最多保留的字符数
	FallbackMaxRunes = 600
	// EmptySummary 正文为空时的占位文案
	EmptySummary = "(无摘要)"
)

var (
	tagRe   = regexp.MustCompile(`<[^>]+>`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// StableUID 优先使用源提供的 guid，否则对 link|title 做 sha1，保证多次抓取得到同一个 id
func StableUID(guid, link, title string) string {
	if g := strings.TrimSpace(guid); g != "" {
		return g
	}
	return hashString(link + "|" + title)
}

func hashString(s string) string {
	h := sha1.New()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

// StripMarkup 去掉 HTML 标签（每个标签替换为空白）、反转义实体并合并空白
func StripMarkup(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return CollapseSpace(s)
}

// CollapseSpace 合并连续空白并去掉首尾空白
func CollapseSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// truncateRunes 按 rune 截断并追加省略号
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit]) + "…"
}

// TruncateRunes 导出给报表等模块使用
func TruncateRunes(s string, limit int) string {
	return truncateRunes(s, limit)
}
