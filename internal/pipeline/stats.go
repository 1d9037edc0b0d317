package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/LJTian/RSSDigest/internal/summarizer"
)

// RunStats 单次抓取的统计，只用于汇总推送与接口返回，不落库
type RunStats struct {
	Feeds       int      `json:"feeds"`
	FailedFeeds []string `json:"failedFeeds"`
	// Fetched 截断前源返回的条目总数
	Fetched int `json:"fetched"`
	// Processed == New + Duplicates + Failed
	Processed  int `json:"processed"`
	New        int `json:"new"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`

	AICalls     int `json:"aiCalls"`
	AISucceeded int `json:"aiSucceeded"`
	AIFailed    int `json:"aiFailed"`

	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`

	KeywordsEnabled bool `json:"keywordsEnabled"`
	KeywordArticles int  `json:"keywordArticles"`
	KeywordHits     int  `json:"keywordHits"`

	Notified   int       `json:"notified"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

func (s *RunStats) addUsage(u summarizer.Usage) {
	s.PromptTokens += u.PromptTokens
	s.CompletionTokens += u.CompletionTokens
	s.TotalTokens += u.TotalTokens
}

// Digest 汇总推送文案
func (s RunStats) Digest() string {
	lines := []string{
		"RSS-AI 抓取汇总",
		fmt.Sprintf("RSS 源：%d 个", s.Feeds),
		// 按每源上限截断后实际处理的条目数
		fmt.Sprintf("获取条目：%d 条", s.Processed),
		fmt.Sprintf("新增入库：%d 条", s.New),
		fmt.Sprintf("重复跳过：%d 条", s.Duplicates),
		fmt.Sprintf("处理失败：%d 条", s.Failed),
	}
	if s.AICalls > 0 {
		lines = append(lines,
			fmt.Sprintf("AI 调用：%d 次（成功 %d，失败 %d）", s.AICalls, s.AISucceeded, s.AIFailed),
			fmt.Sprintf("Token 消耗：prompt %d，completion %d，total %d", s.PromptTokens, s.CompletionTokens, s.TotalTokens),
		)
	}
	if s.KeywordsEnabled {
		lines = append(lines, fmt.Sprintf("关键词命中：%d 篇（%d 次）", s.KeywordArticles, s.KeywordHits))
	}
	if n := len(s.FailedFeeds); n > 0 {
		lines = append(lines, fmt.Sprintf("源抓取失败：%d 个源", n))
	}
	return strings.Join(lines, "\n")
}
