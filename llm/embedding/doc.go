// Package embedding 提供统一的嵌入提供者接口.
//
// 检索核心只依赖 Provider 接口；真实的嵌入计算（OpenAI、本地模型服务等）
// 在边界之外实现。包内附带一个确定性的 HashEmbedder，用于本地开发和测试，
// 它不具备语义相似性，只保证相同文本产生相同向量。
package embedding
