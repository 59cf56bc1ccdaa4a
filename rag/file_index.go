package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// fileIndexVersion 索引文件格式版本
const fileIndexVersion = 1

type fileIndex struct {
	Version    int        `json:"version"`
	Dimensions int        `json:"dimensions"`
	Documents  []Document `json:"documents"`
}

// SaveIndex 把内存索引写成 JSON 文件（先写临时文件再 rename）
func SaveIndex(path string, store *InMemoryVectorStore) error {
	docs := store.Documents()
	dims := 0
	if len(docs) > 0 {
		dims = len(docs[0].Embedding)
	}
	data, err := json.Marshal(fileIndex{Version: fileIndexVersion, Dimensions: dims, Documents: docs})
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadIndex 加载 SaveIndex 写出的索引文件
func LoadIndex(ctx context.Context, path string, logger *zap.Logger) (*InMemoryVectorStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var idx fileIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parse index %s: %w", path, err)
	}
	if idx.Version != fileIndexVersion {
		return nil, fmt.Errorf("unsupported index version %d", idx.Version)
	}
	for _, d := range idx.Documents {
		if len(d.Embedding) != idx.Dimensions {
			return nil, fmt.Errorf("document %s has %d dimensions, index declares %d", d.ID, len(d.Embedding), idx.Dimensions)
		}
	}
	store := NewInMemoryVectorStore(logger)
	if err := store.AddDocuments(ctx, idx.Documents); err != nil {
		return nil, err
	}
	return store, nil
}
