// =============================================================================
// 📦 KnowledgeFlow 配置
// =============================================================================
// 统一配置结构与默认值
// =============================================================================
package config

import "time"

// Config 是 KnowledgeFlow 的完整配置结构
type Config struct {
	// Redis 结果缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 关系存储配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Embedding 嵌入配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Retrieval 检索配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// RAG 编排器配置
	RAG RAGConfig `yaml:"rag" env:"RAG"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用二级缓存层
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
}

// DatabaseConfig 关系存储配置
type DatabaseConfig struct {
	// 驱动类型: sqlite（其他驱动在边界外接入）
	Driver string `yaml:"driver" env:"DRIVER"`
	// DSN，sqlite 时为文件路径或 :memory:
	DSN string `yaml:"dsn" env:"DSN"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// EmbeddingConfig 嵌入配置
type EmbeddingConfig struct {
	// 提供者: hash（内置确定性嵌入）或外部服务名
	Provider string `yaml:"provider" env:"PROVIDER"`
	// 向量维度
	Dimensions int `yaml:"dimensions" env:"DIMENSIONS"`
}

// RetrievalConfig 检索配置
type RetrievalConfig struct {
	// 语义分支权重
	SemanticWeight float64 `yaml:"semantic_weight" env:"SEMANTIC_WEIGHT"`
	// 关键词分支权重
	KeywordWeight float64 `yaml:"keyword_weight" env:"KEYWORD_WEIGHT"`
	// 合并后的内部结果上限
	MaxResults int `yaml:"max_results" env:"MAX_RESULTS"`
	// 是否启用词重叠重排序
	UseRerank bool `yaml:"use_rerank" env:"USE_RERANK"`
	// 跨存储子查询超时
	SubQueryTimeout time.Duration `yaml:"sub_query_timeout" env:"SUB_QUERY_TIMEOUT"`
	// 结果缓存 TTL
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	// 结果缓存容量
	CacheCapacity int `yaml:"cache_capacity" env:"CACHE_CAPACITY"`
}

// RAGConfig 编排器配置
type RAGConfig struct {
	// 上下文字符预算
	MaxContextLength int `yaml:"max_context_length" env:"MAX_CONTEXT_LENGTH"`
	// 检索文档数默认值
	MaxDocuments int `yaml:"max_documents" env:"MAX_DOCUMENTS"`
	// 生成温度
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 生成最大 Token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 单次上游生成调用超时
	ProviderTimeout time.Duration `yaml:"provider_timeout" env:"PROVIDER_TIMEOUT"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Retrieval: DefaultRetrievalConfig(),
		RAG:       DefaultRAGConfig(),
		Log:       DefaultLogConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:  false,
		Addr:     "localhost:6379",
		DB:       0,
		PoolSize: 10,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		DSN:             "knowledgeflow.db",
		MaxOpenConns:    10,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultEmbeddingConfig 返回默认嵌入配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Provider:   "hash",
		Dimensions: 256,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		SemanticWeight:  0.7,
		KeywordWeight:   0.3,
		MaxResults:      50,
		UseRerank:       true,
		SubQueryTimeout: 10 * time.Second,
		CacheTTL:        5 * time.Minute,
		CacheCapacity:   100,
	}
}

// DefaultRAGConfig 返回默认编排器配置
func DefaultRAGConfig() RAGConfig {
	return RAGConfig{
		MaxContextLength: 8000,
		MaxDocuments:     5,
		Temperature:      0.7,
		MaxTokens:        2048,
		ProviderTimeout:  30 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}
