package rag

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ResultCacheConfig 结果缓存配置。
type ResultCacheConfig struct {
	TTL      time.Duration `json:"ttl"`      // 默认 300s
	Capacity int           `json:"capacity"` // 默认 100，溢出时淘汰最早插入项
}

// DefaultResultCacheConfig 返回默认缓存配置。
func DefaultResultCacheConfig() ResultCacheConfig {
	return ResultCacheConfig{
		TTL:      5 * time.Minute,
		Capacity: 100,
	}
}

// ResultCache 跨存储查询结果缓存：本地 TTL 层 + 可选 Redis 二级层。
//
// 缓存是尽力而为的，不是正确性关键存储：并发写同一个 key 允许互相
// 覆盖，除 map 自身的互斥锁外不做额外同步。
type ResultCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   []string // 插入序，容量溢出时从头部淘汰
	config  ResultCacheConfig
	redis   *redis.Client // 可为 nil
	logger  *zap.Logger
}

type cacheEntry struct {
	result     *CrossStoreResult
	insertedAt time.Time
}

// NewResultCache 创建结果缓存。rdb 传 nil 时只使用本地层。
func NewResultCache(config ResultCacheConfig, rdb *redis.Client, logger *zap.Logger) *ResultCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}
	if config.Capacity <= 0 {
		config.Capacity = 100
	}
	return &ResultCache{
		entries: make(map[string]*cacheEntry),
		config:  config,
		redis:   rdb,
		logger:  logger.With(zap.String("component", "result_cache")),
	}
}

// QuerySignature 生成查询的规范化缓存键：
// 查询文本 + 排序后的目标存储 + 合并策略 + limit。
func QuerySignature(q CrossStoreQuery) string {
	stores := make([]string, len(q.TargetStores))
	for i, s := range q.TargetStores {
		stores[i] = string(s)
	}
	sort.Strings(stores)

	return strings.Join([]string{
		q.Query,
		strings.Join(stores, ","),
		string(q.MergeStrategy),
		strconv.Itoa(q.Limit),
	}, "|")
}

// Get 返回未过期的缓存结果。本地未命中时尝试 Redis 层，命中则回填本地。
func (c *ResultCache) Get(ctx context.Context, key string) (*CrossStoreResult, bool) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		if time.Since(entry.insertedAt) <= c.config.TTL {
			result := entry.result
			c.mu.Unlock()
			return result, true
		}
		// 过期：当场清理
		delete(c.entries, key)
		c.order = removeString(c.order, key)
	}
	c.mu.Unlock()

	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, c.redisKey(key)).Bytes()
	if err != nil {
		return nil, false
	}
	var result CrossStoreResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn("corrupt redis cache entry", zap.Error(err))
		return nil, false
	}
	c.setLocal(key, &result)
	return &result, true
}

// Set 写入两层缓存。本地层容量溢出时淘汰最早插入的条目。
func (c *ResultCache) Set(ctx context.Context, key string, result *CrossStoreResult) {
	c.setLocal(key, result)

	if c.redis == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("marshal cache entry failed", zap.Error(err))
		return
	}
	if err := c.redis.Set(ctx, c.redisKey(key), data, c.config.TTL).Err(); err != nil {
		c.logger.Warn("redis cache write failed", zap.Error(err))
	}
}

func (c *ResultCache) setLocal(key string, result *CrossStoreResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.order = removeString(c.order, key)
	}
	c.entries[key] = &cacheEntry{result: result, insertedAt: time.Now()}
	c.order = append(c.order, key)

	for len(c.entries) > c.config.Capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Clear 清空两层缓存。
func (c *ResultCache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.order = nil
	c.mu.Unlock()

	if c.redis != nil {
		iter := c.redis.Scan(ctx, 0, c.redisKey("*"), 0).Iterator()
		for iter.Next(ctx) {
			c.redis.Del(ctx, iter.Val())
		}
	}
}

// Len 返回本地层当前条目数。
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResultCache) redisKey(key string) string {
	return "kf:crossstore:" + key
}
