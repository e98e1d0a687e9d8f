package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/llm/embedding"
)

// HybridSearchConfig 混合检索配置。
type HybridSearchConfig struct {
	// 分支权重
	SemanticWeight float64 `json:"semantic_weight"` // 默认 0.7
	KeywordWeight  float64 `json:"keyword_weight"`  // 默认 0.3

	// 向量检索参数
	Threshold float64 `json:"threshold,omitempty"`

	// 合并后的内部结果上限（调用方 limit 之前的截断）
	MaxResults int `json:"max_results"`

	// 上下文窗口：>0 时对 chunk 级结果拼接 ±ContextWindow/2 个邻接块
	ContextWindow int `json:"context_window,omitempty"`

	// 词重叠重排序
	UseRerank bool `json:"use_rerank"`
}

// DefaultHybridSearchConfig 返回默认混合检索配置。
func DefaultHybridSearchConfig() HybridSearchConfig {
	return HybridSearchConfig{
		SemanticWeight: 0.7,
		KeywordWeight:  0.3,
		MaxResults:     50,
		UseRerank:      true,
	}
}

// HybridSearchEngine 混合检索引擎：语义分支 + 可选关键词分支。
//
// 任一分支失败只贡献空结果并记录日志，另一分支照常返回；两个分支
// 都为空时返回空结果而非错误。
type HybridSearchEngine struct {
	vector     VectorStore
	relational RelationalStore // 可为 nil：仅语义检索
	embedder   embedding.Provider
	config     HybridSearchConfig
	logger     *zap.Logger
}

// NewHybridSearchEngine 创建混合检索引擎。relational 传 nil 时关键词
// 分支被禁用。
func NewHybridSearchEngine(
	vector VectorStore,
	relational RelationalStore,
	embedder embedding.Provider,
	config HybridSearchConfig,
	logger *zap.Logger,
) *HybridSearchEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SemanticWeight == 0 && config.KeywordWeight == 0 {
		config.SemanticWeight = 0.7
		config.KeywordWeight = 0.3
	}
	if config.MaxResults <= 0 {
		config.MaxResults = 50
	}
	return &HybridSearchEngine{
		vector:     vector,
		relational: relational,
		embedder:   embedder,
		config:     config,
		logger:     logger.With(zap.String("component", "hybrid_search")),
	}
}

// Search 执行混合检索并返回按 Score 降序的结果。
func (e *HybridSearchEngine) Search(ctx context.Context, query KnowledgeQuery) ([]SearchResult, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 10
	}

	// 1. 语义分支
	semantic := e.semanticBranch(ctx, query, limit)

	// 2. 关键词分支（仅在配置了关系存储时）
	var keyword []SearchResult
	if e.relational != nil {
		keyword = e.keywordBranch(ctx, query)
	}

	// 3. 分支加权
	applyWeight(semantic, e.config.SemanticWeight)
	applyWeight(keyword, e.config.KeywordWeight)

	// 4. 按文档去重合并：score 取最大，relevanceScore 跨源累加
	merged := mergeBranches(semantic, keyword)
	if len(merged) > e.config.MaxResults {
		merged = merged[:e.config.MaxResults]
	}

	// 5. 上下文窗口扩展
	if e.config.ContextWindow > 0 {
		merged = e.expandContextWindows(ctx, merged)
	}

	// 6. 重排序
	if e.config.UseRerank {
		merged = rerankByTermOverlap(query.Text, merged)
	}

	// 7. 截断到调用方 limit
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// SemanticSearch 仅执行语义分支（不加权），供跨存储协调器按存储分发。
func (e *HybridSearchEngine) SemanticSearch(ctx context.Context, query KnowledgeQuery) ([]SearchResult, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 10
	}
	vec, err := e.embedder.EmbedQuery(ctx, query.Text)
	if err != nil {
		return nil, err
	}
	return e.vector.SearchByEmbedding(ctx, vec, VectorSearchOptions{
		K:         limit,
		Threshold: e.config.Threshold,
		Filters:   query.Filters,
	})
}

func (e *HybridSearchEngine) semanticBranch(ctx context.Context, query KnowledgeQuery, limit int) []SearchResult {
	results, err := e.SemanticSearch(ctx, KnowledgeQuery{
		Text:    query.Text,
		Filters: query.Filters,
		Limit:   limit,
	})
	if err != nil {
		e.logger.Warn("semantic branch failed", zap.Error(err))
		return nil
	}
	return results
}

func (e *HybridSearchEngine) keywordBranch(ctx context.Context, query KnowledgeQuery) []SearchResult {
	results, err := e.relational.SearchDocuments(ctx, query)
	if err != nil {
		e.logger.Warn("keyword branch failed", zap.Error(err))
		return nil
	}
	return results
}

func applyWeight(results []SearchResult, weight float64) {
	for i := range results {
		results[i].Score *= weight
		results[i].RelevanceScore *= weight
	}
}

// mergeBranches 按文档 ID 去重：score 取各分支最大值，relevanceScore
// 跨分支求和（奖励被多个源确认的文档）；按 score 降序、同分按 ID 排序。
func mergeBranches(branches ...[]SearchResult) []SearchResult {
	byID := map[string]*SearchResult{}
	var order []string

	for _, branch := range branches {
		for _, r := range branch {
			id := r.Document.ID
			if existing, ok := byID[id]; ok {
				if r.Score > existing.Score {
					existing.Score = r.Score
					existing.Document = r.Document
				}
				existing.RelevanceScore += r.RelevanceScore
				continue
			}
			copied := r
			byID[id] = &copied
			order = append(order, id)
		}
	}

	merged := make([]SearchResult, 0, len(order))
	for _, id := range order {
		merged = append(merged, *byID[id])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].Document.ID < merged[j].Document.ID
	})
	return merged
}

// expandContextWindows 对 chunk 级结果拼接邻接块内容。
// 匹配块越靠近窗口中心，relevanceScore 的中心性加成越高。
func (e *HybridSearchEngine) expandContextWindows(ctx context.Context, results []SearchResult) []SearchResult {
	half := e.config.ContextWindow / 2
	if half <= 0 {
		return results
	}

	for i := range results {
		chunk := results[i].Document.Chunk
		if chunk == nil {
			continue
		}

		parent, err := e.vector.GetDocument(ctx, chunk.ParentID)
		if err != nil || len(parent.Chunks) == 0 {
			continue
		}

		lo := chunk.ChunkIndex - half
		if lo < 0 {
			lo = 0
		}
		hi := chunk.ChunkIndex + half
		if hi > len(parent.Chunks)-1 {
			hi = len(parent.Chunks) - 1
		}

		var parts []string
		for j := lo; j <= hi; j++ {
			parts = append(parts, parent.Chunks[j].Content)
		}
		results[i].Document.Content = strings.Join(parts, "\n")

		// 中心性：匹配块在窗口正中时加成最大
		center := float64(lo+hi) / 2
		span := float64(hi - lo + 1)
		centrality := 1.0 - (abs(float64(chunk.ChunkIndex)-center) / span)
		results[i].RelevanceScore *= 1.0 + 0.1*centrality
	}
	return results
}

// rerankByTermOverlap 词重叠重排序：完整查询串命中 ×1.2，标题与内容
// 的查询词覆盖率按比例加成；最终按 max(score, 调整后 relevanceScore)
// 降序重排。
func rerankByTermOverlap(query string, results []SearchResult) []SearchResult {
	queryLower := strings.ToLower(strings.TrimSpace(query))
	terms := ExtractKeyTerms(query, 10)

	for i := range results {
		content := strings.ToLower(results[i].Document.Content)
		title := strings.ToLower(results[i].Document.Title)

		boost := 1.0
		if queryLower != "" && strings.Contains(content, queryLower) {
			boost *= 1.2
		}
		boost += 0.3 * termFraction(terms, title)
		boost += 0.2 * termFraction(terms, content)

		results[i].RelevanceScore *= boost
	}

	sort.SliceStable(results, func(i, j int) bool {
		si := maxFloat(results[i].Score, results[i].RelevanceScore)
		sj := maxFloat(results[j].Score, results[j].RelevanceScore)
		if si != sj {
			return si > sj
		}
		return results[i].Document.ID < results[j].Document.ID
	})
	return results
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// String 便于日志输出的配置摘要。
func (c HybridSearchConfig) String() string {
	return fmt.Sprintf("semantic=%.2f keyword=%.2f max=%d rerank=%t",
		c.SemanticWeight, c.KeywordWeight, c.MaxResults, c.UseRerank)
}
