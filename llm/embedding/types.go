package embedding

import "context"

// EmbeddingRequest 表示生成嵌入的请求.
type EmbeddingRequest struct {
	Input      []string `json:"input"`                // Text inputs to embed
	Model      string   `json:"model,omitempty"`      // Model to use
	Dimensions int      `json:"dimensions,omitempty"` // Output dimensions (for models that support it)
}

// EmbeddingResponse 表示嵌入请求的响应.
type EmbeddingResponse struct {
	Provider   string      `json:"provider"`
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// Provider 定义统一的嵌入提供者接口.
type Provider interface {
	// Embed 为给定输入生成嵌入.
	Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error)

	// EmbedQuery 是嵌入单个查询的便捷方法.
	EmbedQuery(ctx context.Context, query string) ([]float64, error)

	// Name 返回提供者名称.
	Name() string

	// Dimensions 返回嵌入维度，固定不变.
	Dimensions() int
}
