package processor

import "strings"

// KeywordGate 关键词过滤：未配置关键词时一律放行；
// 否则任一关键词是 标题+作者+正文+抓取正文 的子串即放行
type KeywordGate struct {
	keywords      []string
	caseSensitive bool
}

func NewKeywordGate(keywords []string, caseSensitive bool) *KeywordGate {
	kws := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		kws = append(kws, k)
	}
	return &KeywordGate{keywords: kws, caseSensitive: caseSensitive}
}

// Enabled 是否配置了关键词
func (g *KeywordGate) Enabled() bool {
	return len(g.keywords) > 0
}

// Match 返回是否放行以及命中的关键词（按配置顺序）
func (g *KeywordGate) Match(fields ...string) (bool, []string) {
	if !g.Enabled() {
		return true, nil
	}
	haystack := strings.Join(fields, "\n")
	if !g.caseSensitive {
		haystack = strings.ToLower(haystack)
	}

	var matched []string
	for _, k := range g.keywords {
		needle := k
		if !g.caseSensitive {
			needle = strings.ToLower(k)
		}
		if strings.Contains(haystack, needle) {
			matched = append(matched, k)
		}
	}
	return len(matched) > 0, matched
}
