package rag

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/llm/embedding"
	"github.com/BaSui01/knowledgeflow/types"
)

// VectorSearchOptions 向量检索参数。
type VectorSearchOptions struct {
	K         int            `json:"k"`                   // 返回条数
	Threshold float64        `json:"threshold,omitempty"` // 最低相似度
	Filters   map[string]any `json:"filters,omitempty"`
}

// CollectionStats 向量集合统计。
type CollectionStats struct {
	DocumentCount int `json:"document_count"`
	Dimensions    int `json:"dimensions"`
}

// VectorStore 向量存储能力接口。具体引擎（Qdrant、Weaviate 等）在
// 边界之外实现；核心只依赖本接口。
type VectorStore interface {
	// AddDocument 存入文档（缺少嵌入时由实现计算）
	AddDocument(ctx context.Context, doc Document) error

	// SearchByEmbedding 按查询向量检索
	SearchByEmbedding(ctx context.Context, vector []float64, opts VectorSearchOptions) ([]SearchResult, error)

	// SearchSimilar 按文本检索（实现负责先嵌入）
	SearchSimilar(ctx context.Context, text string, opts VectorSearchOptions) ([]SearchResult, error)

	// GetDocument 按 ID 取回文档
	GetDocument(ctx context.Context, id string) (*Document, error)

	// DeleteDocument 删除文档，缺失时为幂等空操作
	DeleteDocument(ctx context.Context, id string) error

	// Stats 返回集合统计
	Stats(ctx context.Context) (*CollectionStats, error)
}

// ====== 内存向量存储（用于测试和小规模应用）======

// InMemoryVectorStore 内存向量存储，余弦相似度检索。
type InMemoryVectorStore struct {
	mu       sync.RWMutex
	docs     map[string]Document
	order    []string // 插入序，保证同分结果稳定
	embedder embedding.Provider
	logger   *zap.Logger
}

// NewInMemoryVectorStore 创建内存向量存储。embedder 用于
// SearchSimilar 和缺少嵌入的文档写入。
func NewInMemoryVectorStore(embedder embedding.Provider, logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{
		docs:     make(map[string]Document),
		embedder: embedder,
		logger:   logger.With(zap.String("component", "vector_store_memory")),
	}
}

// AddDocument 存入文档。已存在时替换。
func (s *InMemoryVectorStore) AddDocument(ctx context.Context, doc Document) error {
	if doc.Embedding == nil && s.embedder != nil {
		emb, err := s.embedder.EmbedQuery(ctx, doc.Content)
		if err != nil {
			return &types.Error{
				Code:    types.ErrEmbeddingFailed,
				Message: "embed document " + doc.ID,
				Cause:   err,
			}
		}
		doc.Embedding = emb
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[doc.ID]; !exists {
		s.order = append(s.order, doc.ID)
	}
	s.docs[doc.ID] = doc
	return nil
}

// SearchByEmbedding 按查询向量做余弦相似度检索。
func (s *InMemoryVectorStore) SearchByEmbedding(ctx context.Context, vector []float64, opts VectorSearchOptions) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := []SearchResult{}
	for _, id := range s.order {
		doc := s.docs[id]
		if doc.Embedding == nil {
			continue
		}
		if !matchesFilters(doc, opts.Filters) {
			continue
		}
		score := cosineSimilarity(vector, doc.Embedding)
		if score < opts.Threshold {
			continue
		}
		results = append(results, SearchResult{
			Document:       doc,
			Score:          score,
			RelevanceScore: score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Document.ID < results[j].Document.ID
	})
	if opts.K > 0 && len(results) > opts.K {
		results = results[:opts.K]
	}
	return results, nil
}

// SearchSimilar 按文本检索：先嵌入再按向量检索。
func (s *InMemoryVectorStore) SearchSimilar(ctx context.Context, text string, opts VectorSearchOptions) ([]SearchResult, error) {
	if s.embedder == nil {
		return nil, types.NewStoreUnavailable("vector", nil)
	}
	vec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, &types.Error{
			Code:    types.ErrEmbeddingFailed,
			Message: "embed query",
			Cause:   err,
		}
	}
	return s.SearchByEmbedding(ctx, vec, opts)
}

// GetDocument 按 ID 取回文档；缺失返回 NOT_FOUND。
func (s *InMemoryVectorStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, types.NewNotFound("document", id)
	}
	return &doc, nil
}

// DeleteDocument 删除文档。缺失时为幂等空操作。
func (s *InMemoryVectorStore) DeleteDocument(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return nil
	}
	delete(s.docs, id)
	s.order = removeString(s.order, id)
	return nil
}

// Stats 返回集合统计。
func (s *InMemoryVectorStore) Stats(ctx context.Context) (*CollectionStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	dims := 0
	if s.embedder != nil {
		dims = s.embedder.Dimensions()
	}
	return &CollectionStats{DocumentCount: len(s.docs), Dimensions: dims}, nil
}

// matchesFilters 过滤条件匹配：type、source、tag 及 metadata.Extra 等值。
func matchesFilters(doc Document, filters map[string]any) bool {
	for key, want := range filters {
		switch key {
		case "type":
			if string(doc.Type) != want {
				return false
			}
		case "source":
			if doc.Source != want {
				return false
			}
		case "tag":
			tag, _ := want.(string)
			if !containsString(doc.Metadata.Tags, tag) {
				return false
			}
		default:
			if doc.Metadata.Extra == nil || doc.Metadata.Extra[key] != want {
				return false
			}
		}
	}
	return true
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}

// cosineSimilarity 计算余弦相似度。
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
