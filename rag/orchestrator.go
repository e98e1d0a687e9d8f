package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/llm"
	"github.com/BaSui01/knowledgeflow/types"
)

// Retriever 编排器依赖的检索能力：混合检索引擎和跨存储协调器都实现它。
type Retriever interface {
	Search(ctx context.Context, query KnowledgeQuery) ([]SearchResult, error)
}

// HistoryTurn 会话历史中的一轮。
type HistoryTurn struct {
	Role    llm.Role `json:"role"`
	Content string   `json:"content"`
}

// AskOptions AskQuestion 的可选参数。
type AskOptions struct {
	MaxDocuments int            `json:"max_documents,omitempty"` // 默认 5，上限 10
	Filters      map[string]any `json:"filters,omitempty"`
	Temperature  float32        `json:"temperature,omitempty"`
	Model        string         `json:"model,omitempty"`
}

// RAGContext 一次生成调用的完整输入。
type RAGContext struct {
	Question string         `json:"question"`
	History  []HistoryTurn  `json:"history,omitempty"`
	Options  AskOptions     `json:"options"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RetrievalMetrics 单次调用的检索统计。
type RetrievalMetrics struct {
	DocumentsFound int           `json:"documents_found"`
	ContextLength  int           `json:"context_length"`
	PromptTokens   int           `json:"prompt_tokens,omitempty"` // 组装后上下文的 token 数
	RetrievalTime  time.Duration `json:"retrieval_time"`
}

// RAGResponse 一次问答的结果。返回后不再被修改。
type RAGResponse struct {
	Answer         string           `json:"answer"`
	Sources        []SearchResult   `json:"sources"`
	Confidence     float64          `json:"confidence"` // [0.1, 1.0]
	ConversationID string           `json:"conversation_id"`
	Provider       string           `json:"provider"`
	Retrieval      RetrievalMetrics `json:"retrieval"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// OrchestratorConfig 编排器配置。
type OrchestratorConfig struct {
	// 上下文组装的字符预算
	MaxContextLength int `json:"max_context_length"`

	// 单篇文档注入上下文前的截断长度
	MaxDocumentChars int `json:"max_document_chars"`

	// 检索文档数默认值与上限
	DefaultMaxDocuments int `json:"default_max_documents"`
	HardMaxDocuments    int `json:"hard_max_documents"`

	// 生成参数
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// DefaultOrchestratorConfig 返回默认编排器配置。
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxContextLength:    8000,
		MaxDocumentChars:    1500,
		DefaultMaxDocuments: 5,
		HardMaxDocuments:    10,
		Temperature:         0.7,
		MaxTokens:           2048,
	}
}

// systemInstruction 固定的生成系统指令。
const systemInstruction = "You are a knowledgeable assistant. Answer the question using the provided context. Cite the documents you draw on."

// OrchestratorMetrics 编排器实例级累计指标。
type OrchestratorMetrics struct {
	TotalQueries       int64         `json:"total_queries"`
	FailedQueries      int64         `json:"failed_queries"`
	AvgResponseTime    time.Duration `json:"avg_response_time"`
	AvgConfidence      float64       `json:"avg_confidence"` // 仅统计成功响应
	DocumentsRetrieved int64         `json:"documents_retrieved"`
	ContextUtilization float64       `json:"context_utilization"` // 实际长度 / 预算
}

// Orchestrator RAG 编排器：检索、组装上下文、带降级的生成、置信度
// 打分与引用注入。
//
// 检索失败不致命（按零文档继续生成）；只有全部提供者失败才让整次
// 调用出错。
type Orchestrator struct {
	retriever Retriever
	chain     *llm.FallbackChain
	tokenizer Tokenizer // 可为 nil：只按字符预算
	config    OrchestratorConfig
	logger    *zap.Logger

	mu          sync.Mutex
	metrics     OrchestratorMetrics
	respTimeSum time.Duration
	confSum     float64
	confCount   int64
	utilSum     float64
}

// NewOrchestrator 创建编排器。
func NewOrchestrator(retriever Retriever, chain *llm.FallbackChain, tokenizer Tokenizer, config OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxContextLength <= 0 {
		config.MaxContextLength = 8000
	}
	if config.MaxDocumentChars <= 0 {
		config.MaxDocumentChars = 1500
	}
	if config.DefaultMaxDocuments <= 0 {
		config.DefaultMaxDocuments = 5
	}
	if config.HardMaxDocuments <= 0 {
		config.HardMaxDocuments = 10
	}
	return &Orchestrator{
		retriever: retriever,
		chain:     chain,
		tokenizer: tokenizer,
		config:    config,
		logger:    logger.With(zap.String("component", "rag_orchestrator")),
	}
}

// AskQuestion 对问题执行完整的 RAG 流水线。
func (o *Orchestrator) AskQuestion(ctx context.Context, question string, history []HistoryTurn, opts AskOptions) (*RAGResponse, error) {
	return o.GenerateResponse(ctx, RAGContext{
		Question: question,
		History:  history,
		Options:  opts,
	})
}

// GenerateResponse 执行检索、上下文组装、带降级的生成与后处理。
func (o *Orchestrator) GenerateResponse(ctx context.Context, ragCtx RAGContext) (*RAGResponse, error) {
	if strings.TrimSpace(ragCtx.Question) == "" {
		return nil, types.NewInvalidQuery("empty question")
	}
	start := time.Now()

	// 1. 检索（失败按零文档继续）
	retrievalStart := time.Now()
	sources := o.retrieve(ctx, ragCtx)
	retrievalTime := time.Since(retrievalStart)

	// 2. 上下文组装
	assembled := o.assembleContext(ragCtx.Question, ragCtx.History, sources)

	// 3. 生成（串行降级）
	req := &llm.ChatRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: assembled}},
		System:      systemInstruction,
		Model:       ragCtx.Options.Model,
		MaxTokens:   o.config.MaxTokens,
		Temperature: o.temperature(ragCtx.Options),
	}
	resp, err := o.chain.Generate(ctx, req)
	if err != nil {
		o.recordFailure(time.Since(start))
		return nil, err
	}

	// 4. 置信度：无检索依据的回答降档
	confidence := scoreConfidence(resp.Content)
	if len(sources) == 0 {
		confidence = clamp(confidence-0.2, 0.1, 1.0)
	}

	// 5. 引用注入
	answer := resp.Content
	if len(sources) > 0 && !hasCitation(answer) {
		answer = appendCitations(answer, sources)
	}

	result := &RAGResponse{
		Answer:         answer,
		Sources:        sources,
		Confidence:     confidence,
		ConversationID: uuid.NewString(),
		Provider:       resp.Provider,
		Retrieval: RetrievalMetrics{
			DocumentsFound: len(sources),
			ContextLength:  len(assembled),
			PromptTokens:   o.countTokens(assembled),
			RetrievalTime:  retrievalTime,
		},
		GeneratedAt: time.Now(),
	}

	// 6. 指标
	o.recordSuccess(time.Since(start), confidence, len(sources), len(assembled))

	o.logger.Debug("rag response generated",
		zap.String("provider", resp.Provider),
		zap.Int("sources", len(sources)),
		zap.Float64("confidence", confidence),
		zap.Duration("elapsed", time.Since(start)))

	return result, nil
}

// retrieve 构建检索查询并执行；失败记录日志后按零文档处理。
func (o *Orchestrator) retrieve(ctx context.Context, ragCtx RAGContext) []SearchResult {
	limit := ragCtx.Options.MaxDocuments
	if limit <= 0 {
		limit = o.config.DefaultMaxDocuments
	}
	if limit > o.config.HardMaxDocuments {
		limit = o.config.HardMaxDocuments
	}

	query := ragCtx.Question
	if expansion := expandFromHistory(ragCtx.History); expansion != "" {
		query = query + " " + expansion
	}

	results, err := o.retriever.Search(ctx, KnowledgeQuery{
		Text:    query,
		Filters: ragCtx.Options.Filters,
		Limit:   limit,
	})
	if err != nil {
		o.logger.Warn("retrieval failed, generating without context", zap.Error(err))
		return nil
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// expandFromHistory 从最近 3 轮用户发言中提取至多 5 个关键词。
func expandFromHistory(history []HistoryTurn) string {
	var userTurns []string
	for i := len(history) - 1; i >= 0 && len(userTurns) < 3; i-- {
		if history[i].Role == llm.RoleUser {
			userTurns = append(userTurns, history[i].Content)
		}
	}
	if len(userTurns) == 0 {
		return ""
	}
	terms := ExtractKeyTerms(strings.Join(userTurns, " "), 5)
	return strings.Join(terms, " ")
}

// assembleContext 按固定顺序组装上下文：最近 5 轮历史、打层级标签的
// 文档（按已有排序，超出字符预算即停止）、问题与作答指令。
func (o *Orchestrator) assembleContext(question string, history []HistoryTurn, sources []SearchResult) string {
	var b strings.Builder

	if len(history) > 0 {
		turns := history
		if len(turns) > 5 {
			turns = turns[len(turns)-5:]
		}
		b.WriteString("Conversation so far:\n")
		for _, turn := range turns {
			b.WriteString(strings.ToUpper(string(turn.Role)))
			b.WriteString(": ")
			b.WriteString(turn.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(sources) > 0 {
		b.WriteString("Relevant documents:\n")
		for i, src := range sources {
			content := truncateText(src.Document.Content, o.config.MaxDocumentChars)
			block := fmt.Sprintf("[Document %d: %s] [Relevance: %s]\n%s\n\n",
				i+1, src.Document.Title, relevanceTier(src.Score), content)

			// 超出预算即停止：文档按相关度排序，高分材料优先保留
			if b.Len()+len(block) > o.config.MaxContextLength {
				break
			}
			b.WriteString(block)
		}
	}

	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer comprehensively based on the context above.")
	return b.String()
}

// scoreConfidence 对答案做启发式置信度打分：基准 0.5，
// 引用措辞 +0.2，长答案 +0.1，不确定措辞 -0.2，提及文档/来源 +0.15，
// 最终夹紧到 [0.1, 1.0]。
func scoreConfidence(answer string) float64 {
	lower := strings.ToLower(answer)
	confidence := 0.5

	if strings.Contains(lower, "based on") || strings.Contains(lower, "according to") {
		confidence += 0.2
	}
	if len(answer) > 200 {
		confidence += 0.1
	}
	if strings.Contains(lower, "not sure") || strings.Contains(lower, "unclear") {
		confidence -= 0.2
	}
	if strings.Contains(lower, "document") || strings.Contains(lower, "source") {
		confidence += 0.15
	}
	return clamp(confidence, 0.1, 1.0)
}

// appendCitations 为没有引用形式的答案追加编号来源列表。
func appendCitations(answer string, sources []SearchResult) string {
	var b strings.Builder
	b.WriteString(answer)
	b.WriteString("\n\nSources:\n")
	for i, src := range sources {
		b.WriteString(fmt.Sprintf("%d. %s", i+1, src.Document.Title))
		if src.Document.Source != "" {
			b.WriteString(" (" + src.Document.Source + ")")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (o *Orchestrator) countTokens(text string) int {
	if o.tokenizer == nil {
		return 0
	}
	return o.tokenizer.CountTokens(text)
}

func (o *Orchestrator) temperature(opts AskOptions) float32 {
	if opts.Temperature > 0 {
		return opts.Temperature
	}
	return o.config.Temperature
}

func (o *Orchestrator) recordSuccess(elapsed time.Duration, confidence float64, docs, contextLen int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.metrics.TotalQueries++
	o.respTimeSum += elapsed
	o.metrics.AvgResponseTime = o.respTimeSum / time.Duration(o.metrics.TotalQueries)

	o.confSum += confidence
	o.confCount++
	o.metrics.AvgConfidence = o.confSum / float64(o.confCount)

	o.metrics.DocumentsRetrieved += int64(docs)
	o.utilSum += float64(contextLen) / float64(o.config.MaxContextLength)
	o.metrics.ContextUtilization = o.utilSum / float64(o.metrics.TotalQueries)
}

func (o *Orchestrator) recordFailure(elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.metrics.TotalQueries++
	o.metrics.FailedQueries++
	o.respTimeSum += elapsed
	o.metrics.AvgResponseTime = o.respTimeSum / time.Duration(o.metrics.TotalQueries)
}

// Metrics 返回当前累计指标的快照。
func (o *Orchestrator) Metrics() OrchestratorMetrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.metrics
}

// ClearMetrics 重置全部累计指标。
func (o *Orchestrator) ClearMetrics() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.metrics = OrchestratorMetrics{}
	o.respTimeSum = 0
	o.confSum = 0
	o.confCount = 0
	o.utilSum = 0
}
