// Package knowledgeflow provides a top-level convenience entry point for
// assembling the retrieval and generation stack with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/knowledgeflow"
//
//	kf, err := knowledgeflow.New(
//	    knowledgeflow.WithProviders(llm.ProviderRegistration{Name: "primary", Priority: 1, Provider: p}),
//	)
//	resp, err := kf.Orchestrator.AskQuestion(ctx, "what is a goroutine?", nil, rag.AskOptions{})
//
// Every component is also usable on its own; this package only wires the
// defaults together.
package knowledgeflow

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/knowledgeflow/config"
	"github.com/BaSui01/knowledgeflow/llm"
	"github.com/BaSui01/knowledgeflow/llm/embedding"
	"github.com/BaSui01/knowledgeflow/rag"
)

// Engine bundles the assembled retrieval and generation components.
type Engine struct {
	Config       *config.Config
	Logger       *zap.Logger
	Embedder     embedding.Provider
	Vector       rag.VectorStore
	Relational   rag.RelationalStore
	Graph        *rag.RelationshipGraph
	Hybrid       *rag.HybridSearchEngine
	Coordinator  *rag.Coordinator
	Orchestrator *rag.Orchestrator
}

// Option configures the engine created by [New].
type Option func(*builder)

type builder struct {
	cfg       *config.Config
	logger    *zap.Logger
	embedder  embedding.Provider
	vector    rag.VectorStore
	db        *gorm.DB
	redis     *redis.Client
	providers []llm.ProviderRegistration
}

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(b *builder) { b.cfg = cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *builder) { b.logger = logger }
}

// WithEmbedder sets a custom embedding provider.
func WithEmbedder(e embedding.Provider) Option {
	return func(b *builder) { b.embedder = e }
}

// WithVectorStore replaces the default in-memory vector store.
func WithVectorStore(s rag.VectorStore) Option {
	return func(b *builder) { b.vector = s }
}

// WithDatabase enables the relational store on the given gorm connection.
func WithDatabase(db *gorm.DB) Option {
	return func(b *builder) { b.db = db }
}

// WithRedis enables the second cache tier on the given client.
func WithRedis(client *redis.Client) Option {
	return func(b *builder) { b.redis = client }
}

// WithProviders registers generation backends for the fallback chain.
func WithProviders(regs ...llm.ProviderRegistration) Option {
	return func(b *builder) { b.providers = append(b.providers, regs...) }
}

// New assembles an [Engine] from the given options. Components not
// configured explicitly fall back to local defaults: hash embedder,
// in-memory vector store, no relational store, local-only cache.
func New(opts ...Option) (*Engine, error) {
	b := &builder{}
	for _, opt := range opts {
		opt(b)
	}

	cfg := b.cfg
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := b.logger
	if logger == nil {
		var err error
		logger, err = config.BuildLogger(cfg.Log)
		if err != nil {
			return nil, err
		}
	}

	embedder := b.embedder
	if embedder == nil {
		embedder = embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
	}

	vector := b.vector
	if vector == nil {
		vector = rag.NewInMemoryVectorStore(embedder, logger)
	}

	var relational rag.RelationalStore
	if b.db != nil {
		store, err := rag.NewGormRelationalStore(b.db, logger)
		if err != nil {
			return nil, err
		}
		relational = store
	}

	graph := rag.NewRelationshipGraph(logger)

	hybridCfg := rag.DefaultHybridSearchConfig()
	hybridCfg.SemanticWeight = cfg.Retrieval.SemanticWeight
	hybridCfg.KeywordWeight = cfg.Retrieval.KeywordWeight
	hybridCfg.MaxResults = cfg.Retrieval.MaxResults
	hybridCfg.UseRerank = cfg.Retrieval.UseRerank
	hybrid := rag.NewHybridSearchEngine(vector, relational, embedder, hybridCfg, logger)

	redisClient := b.redis
	if redisClient == nil && cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
	}

	coordCfg := rag.DefaultCoordinatorConfig()
	coordCfg.SubQueryTimeout = cfg.Retrieval.SubQueryTimeout
	coordCfg.Cache = rag.ResultCacheConfig{
		TTL:      cfg.Retrieval.CacheTTL,
		Capacity: cfg.Retrieval.CacheCapacity,
	}
	cache := rag.NewResultCache(coordCfg.Cache, redisClient, logger)
	coordinator := rag.NewCoordinator(hybrid, vector, relational, graph, coordCfg, cache, logger)

	chain := llm.NewFallbackChain(b.providers, cfg.RAG.ProviderTimeout, logger)

	orchCfg := rag.DefaultOrchestratorConfig()
	orchCfg.MaxContextLength = cfg.RAG.MaxContextLength
	orchCfg.DefaultMaxDocuments = cfg.RAG.MaxDocuments
	orchCfg.Temperature = float32(cfg.RAG.Temperature)
	orchCfg.MaxTokens = cfg.RAG.MaxTokens
	orchestrator := rag.NewOrchestrator(coordinator, chain, rag.NewEstimatorTokenizer(), orchCfg, logger)

	return &Engine{
		Config:       cfg,
		Logger:       logger,
		Embedder:     embedder,
		Vector:       vector,
		Relational:   relational,
		Graph:        graph,
		Hybrid:       hybrid,
		Coordinator:  coordinator,
		Orchestrator: orchestrator,
	}, nil
}
