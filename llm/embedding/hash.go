package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// HashEmbedder 确定性哈希嵌入器。
//
// 将文本按词哈希到固定维度的桶中并做 L2 归一化。没有任何语义能力，
// 但共享词的文本会得到较高的余弦相似度，足以支撑本地开发与测试。
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder 创建哈希嵌入器。dims <= 0 时使用默认 256 维。
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dimensions: dims}
}

// Embed 为每个输入生成嵌入。
func (e *HashEmbedder) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([][]float64, len(req.Input))
	for i, text := range req.Input {
		out[i] = e.embedOne(text)
	}
	return &EmbeddingResponse{
		Provider:   e.Name(),
		Model:      "fnv-bucket",
		Embeddings: out,
	}, nil
}

// EmbedQuery 嵌入单个查询。
func (e *HashEmbedder) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.embedOne(query), nil
}

// Name 返回提供者名称。
func (e *HashEmbedder) Name() string { return "hash" }

// Dimensions 返回嵌入维度。
func (e *HashEmbedder) Dimensions() int { return e.dimensions }

func (e *HashEmbedder) embedOne(text string) []float64 {
	vec := make([]float64, e.dimensions)
	for _, term := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(term))
		vec[int(h.Sum32())%e.dimensions] += 1.0
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec
}
