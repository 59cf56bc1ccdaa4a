package rag

import "context"

// Document 索引中的一条文档
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Embedding []float64         `json:"embedding,omitempty"`
}

// Result 检索结果
type Result struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Retriever is the retrieval delegate contract. Implementations must be safe
// for concurrent use, must not mutate the index, and may return fewer than k
// results.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]Result, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, query string, k int) ([]Result, error)

func (f RetrieverFunc) Search(ctx context.Context, query string, k int) ([]Result, error) {
	return f(ctx, query, k)
}
