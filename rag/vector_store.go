package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// VectorStore 向量存储接口
type VectorStore interface {
	AddDocuments(ctx context.Context, docs []Document) error
	Search(ctx context.Context, queryEmbedding []float64, topK int) ([]VectorSearchResult, error)
	Count(ctx context.Context) (int, error)
}

// VectorSearchResult 向量搜索结果
type VectorSearchResult struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// InMemoryVectorStore 内存向量存储，余弦相似度暴力检索
type InMemoryVectorStore struct {
	mu        sync.RWMutex
	documents []Document
	ids       map[string]int
	logger    *zap.Logger
}

// NewInMemoryVectorStore 创建内存向量存储
func NewInMemoryVectorStore(logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{
		ids:    make(map[string]int),
		logger: logger.With(zap.String("component", "vector_store")),
	}
}

// AddDocuments 添加文档；ID 已存在时覆盖
func (s *InMemoryVectorStore) AddDocuments(ctx context.Context, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		if doc.Embedding == nil {
			return fmt.Errorf("document %s has no embedding", doc.ID)
		}
		if idx, ok := s.ids[doc.ID]; ok {
			s.documents[idx] = doc
			continue
		}
		s.ids[doc.ID] = len(s.documents)
		s.documents = append(s.documents, doc)
	}

	s.logger.Debug("documents added", zap.Int("count", len(docs)), zap.Int("total", len(s.documents)))
	return nil
}

// Search 返回相似度最高的 topK 个文档，分数相同按 ID 排序
func (s *InMemoryVectorStore) Search(ctx context.Context, queryEmbedding []float64, topK int) ([]VectorSearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]VectorSearchResult, 0, len(s.documents))
	for _, doc := range s.documents {
		results = append(results, VectorSearchResult{
			Document: doc,
			Score:    cosineSimilarity(queryEmbedding, doc.Embedding),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Document.ID < results[j].Document.ID
	})

	if topK < 0 {
		topK = 0
	}
	if topK > len(results) {
		topK = len(results)
	}
	return results[:topK], nil
}

func (s *InMemoryVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents), nil
}

// Documents returns a copy of the stored documents in insertion order.
func (s *InMemoryVectorStore) Documents() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Document(nil), s.documents...)
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
