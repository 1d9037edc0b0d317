package summarizer

import (
	"encoding/json"
	"strings"

	"github.com/LJTian/RSSDigest/internal/processor"
)

// ParseResult 对模型回复的解析结果：OK 为 false 时 Reason 说明原因，调用方走兜底摘要
type ParseResult struct {
	OK      bool
	Summary processor.Summary
	Reason  string
}

// ParseReply 解析模型返回的 JSON 对象（允许 ``` 代码块包裹），
// 缺失字段用原条目回填，link 始终强制为原文链接
func ParseReply(raw string, it processor.Item) ParseResult {
	body := stripFence(raw)
	if body == "" {
		return ParseResult{Reason: "empty reply"}
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return ParseResult{Reason: "reply is not a JSON object: " + err.Error()}
	}

	s := processor.Summary{
		Title:       stringField(obj, "title"),
		PubDate:     stringField(obj, "pubDate"),
		Author:      stringField(obj, "author"),
		SummaryText: stringField(obj, "summary_text"),
	}
	if s.SummaryText == "" {
		return ParseResult{Reason: "reply has no summary_text"}
	}
	if s.Title == "" {
		s.Title = it.Title
	}
	if s.PubDate == "" {
		s.PubDate = it.PubDate
	}
	if s.Author == "" {
		s.Author = it.Author
	}
	s.Link = it.Link

	return ParseResult{OK: true, Summary: s}
}

// stripFence 去掉 ```json ... ``` 包裹
func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// 去掉语言标记行，例如 json
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		if lang := strings.TrimSpace(s[:i]); lang == "" || isLangTag(lang) {
			s = s[i+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func isLangTag(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

func stringField(obj map[string]any, key string) string {
	v, ok := obj[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
