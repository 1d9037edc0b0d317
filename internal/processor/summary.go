package processor

// Item 待摘要的条目，由 pipeline 组装
type Item struct {
	Title   string
	Link    string
	PubDate string
	Author  string
	Content string
}

// Summary 摘要统一结构：AI 与兜底两种实现都返回它
type Summary struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	PubDate     string `json:"pubDate"`
	Author      string `json:"author"`
	SummaryText string `json:"summary_text"`
}

// FallbackSummary 不依赖外部服务的确定性摘要：去标签、合并空白、截断，空内容给占位文案
func FallbackSummary(it Item) Summary {
	text := truncateRunes(StripMarkup(it.Content), FallbackMaxRunes)
	if text == "" {
		text = EmptySummary
	}
	return Summary{
		Title:       it.Title,
		Link:        it.Link,
		PubDate:     it.PubDate,
		Author:      it.Author,
		SummaryText: text,
	}
}
