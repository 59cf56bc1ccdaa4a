package rag

import (
	"context"
	"fmt"

	"github.com/Lynn-1221/Agents/llm"
	"go.uber.org/zap"
)

// EmbeddingRetriever 用 Embedder 向量化查询，再在 VectorStore 中检索
type EmbeddingRetriever struct {
	embedder llm.Embedder
	store    VectorStore
	logger   *zap.Logger
}

func NewEmbeddingRetriever(embedder llm.Embedder, store VectorStore, logger *zap.Logger) *EmbeddingRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingRetriever{
		embedder: embedder,
		store:    store,
		logger:   logger.With(zap.String("component", "retriever")),
	}
}

func (r *EmbeddingRetriever) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(vectors))
	}

	hits, err := r.store.Search(ctx, vectors[0], k)
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = Result{
			ID:       h.Document.ID,
			Content:  h.Document.Content,
			Score:    h.Score,
			Metadata: h.Document.Metadata,
		}
	}
	r.logger.Debug("retrieval done", zap.Int("k", k), zap.Int("results", len(out)))
	return out, nil
}

// Index embeds docs in batches and adds them to the store.
func Index(ctx context.Context, embedder llm.Embedder, store VectorStore, docs []Document, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 64
	}
	for start := 0; start < len(docs); start += batchSize {
		end := min(start+batchSize, len(docs))
		batch := docs[start:end]
		texts := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = d.Content
		}
		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch %d: %w", start/batchSize, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embed batch %d: expected %d vectors, got %d", start/batchSize, len(batch), len(vectors))
		}
		withVectors := make([]Document, len(batch))
		for i, d := range batch {
			d.Embedding = vectors[i]
			withVectors[i] = d
		}
		if err := store.AddDocuments(ctx, withVectors); err != nil {
			return err
		}
	}
	return nil
}
