// Copyright 2025-2026 KnowledgeFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package llm 定义统一的文本生成能力接口和降级链。

检索核心不关心具体的生成后端：任何实现 Provider 接口的后端都可以
注册进 FallbackChain，由编排器按优先级顺序依次尝试，首个成功者胜出。

# 核心接口/类型

  - Provider — 统一的生成接口（Completion / HealthCheck / Name）
  - ProviderRegistration — 注册记录（Name / Priority / MaxContextLength）
  - FallbackChain — 按优先级顺序的串行降级链
  - ChatRequest / ChatResponse / Message — 统一的请求/响应结构

# 设计约束

降级链严格串行：只有首个成功的响应会被使用，提供者调用可能产生
费用等副作用，因此绝不并行尝试。单个提供者的失败被记录日志后吞掉，
只有全部失败才向调用方返回 ALL_PROVIDERS_FAILED。
*/
package llm
