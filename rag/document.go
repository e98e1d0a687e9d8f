package rag

import "time"

// DocumentType 文档类型。
type DocumentType string

const (
	DocumentTypeText       DocumentType = "text"
	DocumentTypeCode       DocumentType = "code"
	DocumentTypeStructured DocumentType = "structured"
	DocumentTypeMarkdown   DocumentType = "markdown"
)

// DocumentMetadata 文档元数据。
type DocumentMetadata struct {
	Author    string         `json:"author,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Language  string         `json:"language,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitempty"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
	WordCount int            `json:"word_count,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Chunk 文档的一个子区间分块。分块由外部摄取管线产生，核心只读。
type Chunk struct {
	ID          string `json:"id"`
	ParentID    string `json:"parent_id"` // 所属文档 ID
	Content     string `json:"content"`
	StartIndex  int    `json:"start_index"` // 在父文档 content 中的起始偏移
	EndIndex    int    `json:"end_index"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	WordCount   int    `json:"word_count,omitempty"`
	HasOverlap  bool   `json:"has_overlap,omitempty"`
}

// Document 一个已摄取的知识单元。
//
// 当该记录表示某个父文档的单个分块时，Chunk 字段被设置，ID 形如
// "parentID#chunkIndex"；混合检索的上下文窗口扩展依赖这一约定。
type Document struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Content   string           `json:"content"`
	Type      DocumentType     `json:"type"`
	Source    string           `json:"source,omitempty"`
	Metadata  DocumentMetadata `json:"metadata,omitempty"`
	Chunks    []Chunk          `json:"chunks,omitempty"`
	Chunk     *Chunk           `json:"chunk,omitempty"`
	Embedding []float64        `json:"embedding,omitempty"`
}

// SearchResult 单条检索结果。
//
// Score 是原始相似度/相关度（不保证落在 [0,1]），合并后按其降序排列。
// RelevanceScore 是策略加权分，同一文档被多个源确认时跨源累加，
// 因此随确认源增多单调不减。
type SearchResult struct {
	Document       Document `json:"document"`
	Score          float64  `json:"score"`
	RelevanceScore float64  `json:"relevance_score"`
}

// KnowledgeQuery 对单个存储的检索请求。
type KnowledgeQuery struct {
	Text    string         `json:"text"`
	Types   []DocumentType `json:"types,omitempty"`
	Tags    []string       `json:"tags,omitempty"`
	Filters map[string]any `json:"filters,omitempty"`
	Limit   int            `json:"limit,omitempty"`
}
