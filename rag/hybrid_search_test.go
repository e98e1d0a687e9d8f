package rag

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/BaSui01/knowledgeflow/llm/embedding"
)

func newHybridFixture(vectorResults, keywordResults []SearchResult) (*HybridSearchEngine, *fakeVectorStore, *fakeRelationalStore) {
	vector := &fakeVectorStore{results: vectorResults}
	relational := &fakeRelationalStore{results: keywordResults}
	engine := NewHybridSearchEngine(vector, relational, embedding.NewHashEmbedder(16), DefaultHybridSearchConfig(), nil)
	return engine, vector, relational
}

func TestHybridSearch_WeightsAndMerge(t *testing.T) {
	t.Parallel()

	engine, _, _ := newHybridFixture(
		[]SearchResult{result("a", 1.0), result("b", 0.5)},
		[]SearchResult{result("a", 1.0), result("c", 0.8)},
	)

	results, err := engine.Search(context.Background(), KnowledgeQuery{Text: "zzz", Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 unique documents, got %d", len(results))
	}

	a := results[0]
	if a.Document.ID != "a" {
		t.Fatalf("expected a first, got %s", a.Document.ID)
	}
	// score = max(1.0*0.7, 1.0*0.3) = 0.7
	if math.Abs(a.Score-0.7) > 1e-9 {
		t.Fatalf("expected semantic-weighted score 0.7, got %v", a.Score)
	}
	// 跨分支确认：relevance 至少为两分支加权之和 1.0
	if a.RelevanceScore < 1.0-1e-9 {
		t.Fatalf("expected summed relevance >= 1.0, got %v", a.RelevanceScore)
	}
}

func TestHybridSearch_SemanticOnlyWithoutRelational(t *testing.T) {
	t.Parallel()

	vector := &fakeVectorStore{results: []SearchResult{result("a", 0.9)}}
	engine := NewHybridSearchEngine(vector, nil, embedding.NewHashEmbedder(16), DefaultHybridSearchConfig(), nil)

	results, err := engine.Search(context.Background(), KnowledgeQuery{Text: "q", Limit: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Document.ID != "a" {
		t.Fatalf("expected semantic-only result, got %+v", results)
	}
}

func TestHybridSearch_BranchFailureDegrades(t *testing.T) {
	t.Parallel()

	vector := &fakeVectorStore{fail: true}
	relational := &fakeRelationalStore{results: []SearchResult{result("k", 0.6)}}
	engine := NewHybridSearchEngine(vector, relational, embedding.NewHashEmbedder(16), DefaultHybridSearchConfig(), nil)

	results, err := engine.Search(context.Background(), KnowledgeQuery{Text: "q", Limit: 5})
	if err != nil {
		t.Fatalf("branch failure must not fail the search: %v", err)
	}
	if len(results) != 1 || results[0].Document.ID != "k" {
		t.Fatalf("expected keyword-only degradation, got %+v", results)
	}

	relational.fail = true
	results, err = engine.Search(context.Background(), KnowledgeQuery{Text: "q", Limit: 5})
	if err != nil {
		t.Fatalf("both branches failing must not error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty results, got %d", len(results))
	}
}

func TestHybridSearch_RerankBoostsLiteralMatch(t *testing.T) {
	t.Parallel()

	exact := result("exact", 0.5)
	exact.Document.Content = "the answer to garbage collection tuning in go"
	other := result("other", 0.5)
	other.Document.Content = "completely unrelated text"

	engine, _, _ := newHybridFixture([]SearchResult{other, exact}, nil)

	results, err := engine.Search(context.Background(), KnowledgeQuery{Text: "garbage collection tuning", Limit: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].Document.ID != "exact" {
		t.Fatalf("expected literal match reranked first, got %s", results[0].Document.ID)
	}
}

func TestHybridSearch_ContextWindowExpansion(t *testing.T) {
	t.Parallel()

	parent := Document{
		ID:    "doc",
		Title: "chunked",
		Chunks: []Chunk{
			{ID: "doc#0", ParentID: "doc", Content: "alpha", ChunkIndex: 0, TotalChunks: 3},
			{ID: "doc#1", ParentID: "doc", Content: "bravo", ChunkIndex: 1, TotalChunks: 3},
			{ID: "doc#2", ParentID: "doc", Content: "charlie", ChunkIndex: 2, TotalChunks: 3},
		},
	}
	hit := SearchResult{
		Document: Document{
			ID:      "doc#1",
			Title:   "chunked",
			Content: "bravo",
			Chunk:   &parent.Chunks[1],
		},
		Score:          0.9,
		RelevanceScore: 0.9,
	}

	vector := &fakeVectorStore{
		results: []SearchResult{hit},
		docs:    map[string]Document{"doc": parent},
	}
	config := DefaultHybridSearchConfig()
	config.ContextWindow = 2
	config.UseRerank = false
	engine := NewHybridSearchEngine(vector, nil, embedding.NewHashEmbedder(16), config, nil)

	results, err := engine.Search(context.Background(), KnowledgeQuery{Text: "bravo", Limit: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	content := results[0].Document.Content
	for _, part := range []string{"alpha", "bravo", "charlie"} {
		if !strings.Contains(content, part) {
			t.Fatalf("expected neighbor chunks spliced in, missing %q in %q", part, content)
		}
	}
	// 中心性加成抬高 relevance
	if results[0].RelevanceScore <= 0.9*DefaultHybridSearchConfig().SemanticWeight {
		t.Fatalf("expected centrality bump, got %v", results[0].RelevanceScore)
	}
}

func TestHybridSearch_LimitRespected(t *testing.T) {
	t.Parallel()

	var many []SearchResult
	for i := 0; i < 20; i++ {
		many = append(many, result(fmt.Sprintf("d%02d", i), 1.0-float64(i)*0.01))
	}
	engine, _, _ := newHybridFixture(many, nil)

	results, err := engine.Search(context.Background(), KnowledgeQuery{Text: "q", Limit: 7})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 7 {
		t.Fatalf("expected limit 7 honored, got %d", len(results))
	}
}
