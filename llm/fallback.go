package llm

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/knowledgeflow/types"
)

// ProviderRegistration 降级链中的一条注册记录。
//
// Priority 数值越小越先被尝试；同优先级按 Name 字典序排序，保证
// 链的迭代顺序稳定。MaxContextLength 是该后端可接受的上下文字符数，
// 供上层在组装上下文时参考。
type ProviderRegistration struct {
	Name             string   `json:"name"`
	Priority         int      `json:"priority"`
	MaxContextLength int      `json:"max_context_length"`
	Provider         Provider `json:"-"`
}

// FallbackChain 按优先级顺序串行尝试多个生成后端。
//
// 链严格串行执行：提供者调用可能产生费用等副作用，只有首个成功的
// 响应会被使用，因此绝不并行尝试。单个提供者的失败被记录后吞掉，
// 只有全部失败才返回 ALL_PROVIDERS_FAILED。
type FallbackChain struct {
	registrations []ProviderRegistration
	timeout       time.Duration
	logger        *zap.Logger
}

// NewFallbackChain 创建降级链。timeout 为每次上游调用的单独超时，
// 0 表示不额外限制。
func NewFallbackChain(registrations []ProviderRegistration, timeout time.Duration, logger *zap.Logger) *FallbackChain {
	if logger == nil {
		logger = zap.NewNop()
	}

	sorted := make([]ProviderRegistration, len(registrations))
	copy(sorted, registrations)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].Name < sorted[j].Name
	})

	return &FallbackChain{
		registrations: sorted,
		timeout:       timeout,
		logger:        logger.With(zap.String("component", "fallback_chain")),
	}
}

// Registrations 返回按尝试顺序排列的注册记录副本。
func (c *FallbackChain) Registrations() []ProviderRegistration {
	out := make([]ProviderRegistration, len(c.registrations))
	copy(out, c.registrations)
	return out
}

// Len 返回链中注册的提供者数量。
func (c *FallbackChain) Len() int { return len(c.registrations) }

// Generate 依次尝试每个提供者，返回首个成功的响应。
// 返回的 ChatResponse.Provider 总是被设置为胜出提供者的注册名。
func (c *FallbackChain) Generate(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if len(c.registrations) == 0 {
		return nil, types.NewAllProvidersFailed(0, errors.New("no providers registered"))
	}

	var failures []string
	for _, reg := range c.registrations {
		resp, err := c.callOne(ctx, reg, req)
		if err == nil {
			resp.Provider = reg.Name
			return resp, nil
		}

		c.logger.Warn("provider failed, falling back",
			zap.String("provider", reg.Name),
			zap.Int("priority", reg.Priority),
			zap.Error(err))
		failures = append(failures, reg.Name+": "+err.Error())

		// 调用方取消时不再继续尝试剩余提供者
		if ctx.Err() != nil {
			break
		}
	}

	return nil, types.NewAllProvidersFailed(len(failures), errors.New(strings.Join(failures, "; ")))
}

func (c *FallbackChain) callOne(ctx context.Context, reg ProviderRegistration, req *ChatRequest) (*ChatResponse, error) {
	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := reg.Provider.Completion(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, &types.Error{
			Code:     types.ErrProviderFailed,
			Message:  "provider returned empty response",
			Provider: reg.Name,
		}
	}
	return resp, nil
}
