// Copyright 2025-2026 KnowledgeFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package rag 实现跨存储知识检索与检索增强生成（RAG）的核心。

一个自然语言查询经过以下管线：并行分发到各知识存储 → 各源结果
按策略合并排序 →（RAG 场景）限额上下文组装 → 按优先级降级生成 →
带引用的响应。

# 核心接口/类型

  - VectorStore / RelationalStore — 外部向量、关系存储能力接口
  - RelationshipGraph — 内存有向关系图（遍历 / 最短路 / 全文匹配）
  - HybridSearchEngine — 语义 + 关键词混合检索与重排序
  - Coordinator — 跨存储并行分发、四种合并策略、TTL 结果缓存
  - Orchestrator — RAG 编排（检索 → 上下文组装 → 降级生成 → 引用）
  - ResultCache — 本地 TTL 缓存 + 可选 Redis 二级缓存
  - Tokenizer — token 计数接口（tiktoken / 估算器）

# 主要能力

  - 混合检索：语义 0.7 + 关键词 0.3 加权，按文档去重（score 取最大、
    relevanceScore 跨源累加），可选邻接 chunk 上下文拼接与词重叠重排
  - 图遍历：迭代式有界深度 DFS、BFS 最短路径、按类型/属性打分的全文匹配
  - 合并策略：union / intersection / weighted / ranked，结果与子查询
    完成顺序无关
  - 降级生成：严格按优先级串行尝试，首个成功者胜出
  - 置信度启发式与引用注入
*/
package rag
