package rag

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/knowledgeflow/types"
)

// StoreType 可被跨存储查询分发的目标存储。
type StoreType string

const (
	StoreVector     StoreType = "vector"
	StoreRelational StoreType = "relational"
	StoreGraph      StoreType = "graph"
)

// storeDispatchOrder 合并时的固定存储迭代顺序，保证合并结果与
// 子查询完成顺序无关。
var storeDispatchOrder = []StoreType{StoreVector, StoreRelational, StoreGraph}

// MergeStrategy 各存储结果的合并策略。
type MergeStrategy string

const (
	// MergeUnion 并集：按文档去重，保留最高分实例
	MergeUnion MergeStrategy = "union"
	// MergeIntersection 交集：只保留出现在多个存储结果中的文档
	MergeIntersection MergeStrategy = "intersection"
	// MergeWeighted 加权：各存储分数乘以其权重后并集去重。
	// 去重时 score 取各源加权后的最大值而非求和，跨源确认只体现在
	// 单独累加的 relevanceScore 上；下游排序依赖 score，这一不对称
	// 是有意保留的。
	MergeWeighted MergeStrategy = "weighted"
	// MergeRanked 排名（多存储时的默认）：并集去重后严格按分数排序
	MergeRanked MergeStrategy = "ranked"
)

// CrossStoreQuery 一次跨存储查询请求。
type CrossStoreQuery struct {
	Query          string         `json:"query"`
	TargetStores   []StoreType    `json:"target_stores,omitempty"` // 为空时取全部已配置存储
	MergeStrategy  MergeStrategy  `json:"merge_strategy,omitempty"`
	Filters        map[string]any `json:"filters,omitempty"`
	Limit          int            `json:"limit,omitempty"`
	IncludeRelated bool           `json:"include_related,omitempty"` // 附带相关图节点
}

// CrossStoreMetadata 跨存储查询的结果元数据。
type CrossStoreMetadata struct {
	StoresQueried  []StoreType   `json:"stores_queried"`
	TotalFound     int           `json:"total_found"` // 去重前各存储命中总数
	Strategy       MergeStrategy `json:"strategy"`
	ProcessingTime time.Duration `json:"processing_time"`
	Confidence     float64       `json:"confidence"` // 合并结果分数均值，夹紧到 [0,1]
}

// CrossStoreResult 跨存储查询的合并结果。
type CrossStoreResult struct {
	Results      []SearchResult     `json:"results"`
	RelatedNodes []*GraphNode       `json:"related_nodes,omitempty"`
	Metadata     CrossStoreMetadata `json:"metadata"`
}

// CoordinatorConfig 协调器配置。
type CoordinatorConfig struct {
	// 加权合并的各存储权重
	StoreWeights map[StoreType]float64 `json:"store_weights,omitempty"`

	// 单个子查询的超时；超时视同失败（空贡献）
	SubQueryTimeout time.Duration `json:"sub_query_timeout,omitempty"`

	// 结果缓存
	Cache ResultCacheConfig `json:"cache"`

	// 附带相关节点时的遍历深度
	RelatedDepth int `json:"related_depth,omitempty"`
}

// DefaultCoordinatorConfig 返回默认协调器配置。
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		StoreWeights: map[StoreType]float64{
			StoreVector:     0.5,
			StoreRelational: 0.3,
			StoreGraph:      0.2,
		},
		SubQueryTimeout: 10 * time.Second,
		Cache:           DefaultResultCacheConfig(),
		RelatedDepth:    1,
	}
}

// Coordinator 跨存储检索协调器。
//
// 将一个查询并行分发到请求的存储子集，按策略合并，并以查询签名为键
// 缓存结果。单个子查询失败被替换为空结果并记录日志，绝不中断其余
// 子查询或整个调用。
type Coordinator struct {
	hybrid     *HybridSearchEngine
	vector     VectorStore
	relational RelationalStore    // 可为 nil
	graph      *RelationshipGraph // 可为 nil
	cache      *ResultCache
	config     CoordinatorConfig
	logger     *zap.Logger
}

// NewCoordinator 创建协调器。relational 与 graph 可为 nil，
// 对应存储将不可被分发。
func NewCoordinator(
	hybrid *HybridSearchEngine,
	vector VectorStore,
	relational RelationalStore,
	graph *RelationshipGraph,
	config CoordinatorConfig,
	cache *ResultCache,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.StoreWeights == nil {
		config.StoreWeights = DefaultCoordinatorConfig().StoreWeights
	}
	if cache == nil {
		cache = NewResultCache(config.Cache, nil, logger)
	}
	return &Coordinator{
		hybrid:     hybrid,
		vector:     vector,
		relational: relational,
		graph:      graph,
		cache:      cache,
		config:     config,
		logger:     logger.With(zap.String("component", "cross_store_coordinator")),
	}
}

// configuredStores 返回当前可用的存储集合，按固定顺序。
func (c *Coordinator) configuredStores() []StoreType {
	stores := []StoreType{}
	if c.vector != nil {
		stores = append(stores, StoreVector)
	}
	if c.relational != nil {
		stores = append(stores, StoreRelational)
	}
	if c.graph != nil {
		stores = append(stores, StoreGraph)
	}
	return stores
}

// CrossStoreQuery 执行一次跨存储查询。
//
// TTL 内命中缓存时直接返回此前的结果，完全跳过分发与合并。
func (c *Coordinator) CrossStoreQuery(ctx context.Context, query CrossStoreQuery) (*CrossStoreResult, error) {
	if strings.TrimSpace(query.Query) == "" {
		return nil, types.NewInvalidQuery("empty query text")
	}

	query = c.normalize(query)

	key := QuerySignature(query)
	if cached, ok := c.cache.Get(ctx, key); ok {
		c.logger.Debug("cache hit", zap.String("signature", key))
		return cached, nil
	}

	start := time.Now()
	perStore := c.dispatch(ctx, query)

	totalFound := 0
	for _, results := range perStore {
		totalFound += len(results)
	}

	merged := c.merge(query.MergeStrategy, perStore)
	if query.Limit > 0 && len(merged) > query.Limit {
		merged = merged[:query.Limit]
	}

	result := &CrossStoreResult{
		Results: merged,
		Metadata: CrossStoreMetadata{
			StoresQueried:  query.TargetStores,
			TotalFound:     totalFound,
			Strategy:       query.MergeStrategy,
			ProcessingTime: time.Since(start),
			Confidence:     meanScore(merged),
		},
	}

	if query.IncludeRelated && c.graph != nil {
		result.RelatedNodes = c.collectRelatedNodes(merged)
	}

	c.cache.Set(ctx, key, result)

	c.logger.Debug("cross-store query completed",
		zap.Int("stores", len(query.TargetStores)),
		zap.Int("total_found", totalFound),
		zap.Int("merged", len(merged)),
		zap.String("strategy", string(query.MergeStrategy)),
		zap.Duration("elapsed", result.Metadata.ProcessingTime))

	return result, nil
}

// normalize 填充默认值并裁剪到已配置的存储。
func (c *Coordinator) normalize(query CrossStoreQuery) CrossStoreQuery {
	configured := c.configuredStores()
	if len(query.TargetStores) == 0 {
		query.TargetStores = configured
	} else {
		kept := []StoreType{}
		for _, s := range storeDispatchOrder {
			if containsStore(query.TargetStores, s) && containsStore(configured, s) {
				kept = append(kept, s)
			}
		}
		query.TargetStores = kept
	}

	if query.MergeStrategy == "" {
		if len(query.TargetStores) > 1 {
			query.MergeStrategy = MergeRanked
		} else {
			query.MergeStrategy = MergeUnion
		}
	}
	if query.Limit <= 0 {
		query.Limit = 10
	}
	return query
}

// dispatch 并行分发子查询。每个子查询带独立超时；失败或超时的子查询
// 记录日志后以空结果参与合并。
func (c *Coordinator) dispatch(ctx context.Context, query CrossStoreQuery) map[StoreType][]SearchResult {
	perStore := make(map[StoreType][]SearchResult, len(query.TargetStores))
	for _, s := range query.TargetStores {
		perStore[s] = nil
	}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for _, store := range query.TargetStores {
		store := store
		g.Go(func() error {
			subCtx := gctx
			if c.config.SubQueryTimeout > 0 {
				var cancel context.CancelFunc
				subCtx, cancel = context.WithTimeout(gctx, c.config.SubQueryTimeout)
				defer cancel()
			}

			results, err := c.querySingleStore(subCtx, store, query)
			if err != nil {
				// 失败的子查询不允许中断兄弟查询：记录后按空贡献处理
				c.logger.Warn("sub-query failed",
					zap.String("store", string(store)),
					zap.Error(types.NewStoreUnavailable(string(store), err)))
				return nil
			}

			mu.Lock()
			perStore[store] = results
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // 子任务从不返回错误，这里只等待全部完成

	return perStore
}

func (c *Coordinator) querySingleStore(ctx context.Context, store StoreType, query CrossStoreQuery) ([]SearchResult, error) {
	kq := KnowledgeQuery{
		Text:    query.Query,
		Filters: query.Filters,
		Limit:   query.Limit * 2, // 合并去重前多取一些
	}

	switch store {
	case StoreVector:
		return c.hybrid.SemanticSearch(ctx, kq)
	case StoreRelational:
		return c.relational.SearchDocuments(ctx, kq)
	case StoreGraph:
		return c.queryGraphStore(ctx, query)
	default:
		return nil, types.NewStoreUnavailable(string(store), nil)
	}
}

// queryGraphStore 图子查询：全文匹配节点后解析回文档。
// 节点分数（0-100）归一化到 (0,1] 作为检索分。
func (c *Coordinator) queryGraphStore(ctx context.Context, query CrossStoreQuery) ([]SearchResult, error) {
	matches := c.graph.QueryGraph(query.Query)

	results := []SearchResult{}
	for _, m := range matches {
		if len(results) >= query.Limit*2 {
			break
		}
		doc := c.resolveNodeDocument(ctx, m.Node)
		if doc == nil {
			continue
		}
		score := m.Score / 100.0
		results = append(results, SearchResult{
			Document:       *doc,
			Score:          score,
			RelevanceScore: score,
		})
	}
	return results, nil
}

// resolveNodeDocument 通过节点的 documentId 属性（缺省用节点 ID）在
// 可用的存储中解析文档：向量存储优先，其次关系存储。
func (c *Coordinator) resolveNodeDocument(ctx context.Context, node *GraphNode) *Document {
	docID := node.ID
	if v, ok := node.Properties["documentId"].(string); ok && v != "" {
		docID = v
	}

	if c.vector != nil {
		if doc, err := c.vector.GetDocument(ctx, docID); err == nil {
			return doc
		}
	}
	if c.relational != nil {
		if doc, err := c.relational.GetDocument(ctx, docID); err == nil {
			return doc
		}
	}
	return nil
}

// merge 按策略合并各存储结果。实现对 perStore 按固定存储顺序迭代并
// 以 (score, 文档 ID) 排序，因此输出与子查询完成顺序无关。
func (c *Coordinator) merge(strategy MergeStrategy, perStore map[StoreType][]SearchResult) []SearchResult {
	switch strategy {
	case MergeIntersection:
		return mergeIntersection(perStore)
	case MergeWeighted:
		return mergeWeighted(perStore, c.config.StoreWeights)
	case MergeUnion, MergeRanked:
		return mergeUnion(perStore)
	default:
		return mergeUnion(perStore)
	}
}

// mergeUnion 并集去重：score 取最大实例，relevanceScore 跨源累加。
func mergeUnion(perStore map[StoreType][]SearchResult) []SearchResult {
	branches := make([][]SearchResult, 0, len(perStore))
	for _, store := range storeDispatchOrder {
		if results, ok := perStore[store]; ok {
			branches = append(branches, results)
		}
	}
	return mergeBranches(branches...)
}

// mergeIntersection 交集：只保留出现在多于一个存储结果中的文档，
// 保留最高分实例，relevanceScore 跨源累加。
func mergeIntersection(perStore map[StoreType][]SearchResult) []SearchResult {
	type tally struct {
		result SearchResult
		stores int
	}
	byID := map[string]*tally{}
	var order []string

	for _, store := range storeDispatchOrder {
		results, ok := perStore[store]
		if !ok {
			continue
		}
		seenHere := map[string]bool{}
		for _, r := range results {
			id := r.Document.ID
			if existing, ok := byID[id]; ok {
				if r.Score > existing.result.Score {
					existing.result.Score = r.Score
					existing.result.Document = r.Document
				}
				existing.result.RelevanceScore += r.RelevanceScore
				if !seenHere[id] {
					existing.stores++
				}
			} else {
				copied := r
				byID[id] = &tally{result: copied, stores: 1}
				order = append(order, id)
			}
			seenHere[id] = true
		}
	}

	merged := []SearchResult{}
	for _, id := range order {
		if byID[id].stores > 1 {
			merged = append(merged, byID[id].result)
		}
	}
	sortResults(merged)
	return merged
}

// mergeWeighted 加权并集：各存储分数先乘以权重再并集去重
// （score 取加权后最大值，relevanceScore 求和）。
func mergeWeighted(perStore map[StoreType][]SearchResult, weights map[StoreType]float64) []SearchResult {
	weighted := make(map[StoreType][]SearchResult, len(perStore))
	for store, results := range perStore {
		w, ok := weights[store]
		if !ok {
			w = 1.0
		}
		scaled := make([]SearchResult, len(results))
		copy(scaled, results)
		applyWeight(scaled, w)
		weighted[store] = scaled
	}
	return mergeUnion(weighted)
}

func sortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Document.ID < results[j].Document.ID
	})
}

// collectRelatedNodes 为合并结果中的文档收集图邻居（去重）。
func (c *Coordinator) collectRelatedNodes(results []SearchResult) []*GraphNode {
	depth := c.config.RelatedDepth
	if depth <= 0 {
		depth = 1
	}

	seen := map[string]bool{}
	var nodes []*GraphNode
	for _, r := range results {
		related, err := c.graph.GetRelated(r.Document.ID, "", depth)
		if err != nil {
			continue // 文档在图中没有对应节点
		}
		for _, n := range related {
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// meanScore 结果分数均值，夹紧到 [0,1]；空结果为 0。
func meanScore(results []SearchResult) float64 {
	if len(results) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range results {
		sum += r.Score
	}
	return clamp(sum/float64(len(results)), 0, 1)
}

// ClearCache 清空结果缓存。
func (c *Coordinator) ClearCache(ctx context.Context) {
	c.cache.Clear(ctx)
}

// IntelligentSearchOptions IntelligentSearch 的可选参数。
type IntelligentSearchOptions struct {
	Limit          int
	IncludeRelated bool
	Filters        map[string]any
}

// IntelligentSearch 先按查询文本启发式判断需要的存储，再委托给
// CrossStoreQuery（ranked 策略）。
func (c *Coordinator) IntelligentSearch(ctx context.Context, text string, opts IntelligentSearchOptions) (*CrossStoreResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, types.NewInvalidQuery("empty query text")
	}

	stores := c.classifyStores(text)
	return c.CrossStoreQuery(ctx, CrossStoreQuery{
		Query:          text,
		TargetStores:   stores,
		MergeStrategy:  MergeRanked,
		Filters:        opts.Filters,
		Limit:          opts.Limit,
		IncludeRelated: opts.IncludeRelated,
	})
}

// 路由启发式的触发词。
var (
	graphHintTokens      = []string{"related", "connected", "similar", "linked", "relationship"}
	relationalHintTokens = []string{"type:", "tag:", "author:", "source:"}
)

// classifyStores 判断查询可能需要的存储子集：
// 关系词路由到图，结构化过滤词路由到关系存储，配置了向量存储时
// 向量存储总是包含。
func (c *Coordinator) classifyStores(text string) []StoreType {
	lower := strings.ToLower(text)

	stores := []StoreType{}
	if c.vector != nil {
		stores = append(stores, StoreVector)
	}
	if c.relational != nil && containsAnyToken(lower, relationalHintTokens) {
		stores = append(stores, StoreRelational)
	}
	if c.graph != nil && containsAnyToken(lower, graphHintTokens) {
		stores = append(stores, StoreGraph)
	}
	if len(stores) == 0 {
		stores = c.configuredStores()
	}
	return stores
}

func containsAnyToken(text string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(text, tok) {
			return true
		}
	}
	return false
}

// Search 让协调器满足编排器的 Retriever 接口：
// 通过 IntelligentSearch 返回合并后的结果列表。
func (c *Coordinator) Search(ctx context.Context, query KnowledgeQuery) ([]SearchResult, error) {
	res, err := c.IntelligentSearch(ctx, query.Text, IntelligentSearchOptions{
		Limit:   query.Limit,
		Filters: query.Filters,
	})
	if err != nil {
		return nil, err
	}
	return res.Results, nil
}

func containsStore(list []StoreType, target StoreType) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
