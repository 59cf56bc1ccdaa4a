package rag

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ChunkingConfig 分块配置（单位为字符）
type ChunkingConfig struct {
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"`
}

func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{ChunkSize: 1000, ChunkOverlap: 200}
}

// Chunk 把文本切成不超过 ChunkSize 个字符的块，相邻块重叠 ChunkOverlap 个字符。
// 切分点优先落在块尾 1/5 范围内的换行处。
func Chunk(text string, cfg ChunkingConfig) []string {
	if cfg.ChunkSize <= 0 {
		cfg = DefaultChunkingConfig()
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 5
	}

	runes := []rune(strings.TrimSpace(text))
	var chunks []string
	for start := 0; start < len(runes); {
		end := min(start+cfg.ChunkSize, len(runes))
		if end < len(runes) {
			for i := end - 1; i > end-cfg.ChunkSize/5 && i > start; i-- {
				if runes[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			chunks = append(chunks, s)
		}
		if end == len(runes) {
			break
		}
		start = max(end-cfg.ChunkOverlap, start+1)
	}
	return chunks
}

// LoadDirectory 读取目录下指定扩展名的文件并分块，文档 ID 为 "相对路径#序号"
func LoadDirectory(dir string, exts []string, cfg ChunkingConfig) ([]Document, error) {
	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		allowed[strings.ToLower(e)] = true
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if len(allowed) == 0 || allowed[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	var docs []Document
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		rel, _ := filepath.Rel(dir, path)
		for i, c := range Chunk(string(data), cfg) {
			docs = append(docs, Document{
				ID:       fmt.Sprintf("%s#%d", filepath.ToSlash(rel), i),
				Content:  c,
				Metadata: map[string]string{"source": filepath.ToSlash(rel)},
			})
		}
	}
	return docs, nil
}
