// Package openai 基于 go-openai 实现 llm.Provider 与 llm.Embedder，
// 适用于 OpenAI 及兼容其 Chat Completions 协议的服务。
package openai
