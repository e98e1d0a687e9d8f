package rag

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// 启发式调参常量集中在本文件，便于单独测试（检索编排不直接内联这些规则）。

// stopWords 关键词提取用的停用词表。
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"do": true, "does": true, "did": true, "have": true, "has": true, "had": true,
	"i": true, "you": true, "he": true, "she": true, "it": true, "we": true,
	"they": true, "me": true, "my": true, "your": true, "this": true, "that": true,
	"what": true, "which": true, "who": true, "how": true, "when": true,
	"where": true, "why": true, "of": true, "in": true, "on": true, "at": true,
	"to": true, "for": true, "with": true, "about": true, "from": true,
	"can": true, "could": true, "would": true, "should": true, "will": true,
	"not": true, "no": true, "so": true, "if": true, "then": true, "there": true,
	"please": true, "tell": true,
}

var nonWordChars = regexp.MustCompile(`[^a-z0-9\p{Han}]+`)

// ExtractKeyTerms 从文本中提取至多 max 个关键词：小写分词、去标点、
// 过滤停用词和单字符词，保持出现顺序去重。
func ExtractKeyTerms(text string, max int) []string {
	if max <= 0 {
		return nil
	}

	seen := map[string]bool{}
	var terms []string
	for _, raw := range strings.Fields(strings.ToLower(text)) {
		term := nonWordChars.ReplaceAllString(raw, "")
		if len(term) < 2 || stopWords[term] || seen[term] {
			continue
		}
		seen[term] = true
		terms = append(terms, term)
		if len(terms) == max {
			break
		}
	}
	return terms
}

// termFraction 返回 terms 中出现在 text（已小写）中的比例。
func termFraction(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	matched := 0
	for _, term := range terms {
		if strings.Contains(text, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}

// 相关度层级标签，用于上下文组装时标注每篇文档。
const (
	TierHigh   = "HIGH"
	TierMedium = "MEDIUM"
	TierLow    = "LOW"
)

// relevanceTier 按分数返回层级：>0.9 HIGH、>0.7 MEDIUM、其余 LOW。
func relevanceTier(score float64) string {
	switch {
	case score > 0.9:
		return TierHigh
	case score > 0.7:
		return TierMedium
	default:
		return TierLow
	}
}

// citationPattern 识别答案中已有的引用形式。
var citationPattern = regexp.MustCompile(`\[Source:|Document \d|Based on`)

// hasCitation 判断答案是否已包含引用。
func hasCitation(answer string) bool {
	return citationPattern.MatchString(answer)
}

// truncateText 按字节预算截断并追加省略号，退回到 rune 边界以保证
// 截断结果仍是合法 UTF-8。
func truncateText(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

// clamp 将 v 限制在 [lo, hi]。
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
