package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Lynn-1221/Agents/agent/conversation"
)

// FileSessionStore 基于文件的 SessionStore，每个会话一个 <id>.json。
// 适合单节点部署。
type FileSessionStore struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileSessionStore creates the sessions directory under config.BaseDir.
func NewFileSessionStore(config StoreConfig) (*FileSessionStore, error) {
	baseDir := filepath.Join(config.BaseDir, "sessions")
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session store directory: %w", err)
	}
	return &FileSessionStore{baseDir: baseDir}, nil
}

func (s *FileSessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileSessionStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(s.baseDir)
	return err
}

func (s *FileSessionStore) path(id string) (string, error) {
	name, err := fileName(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, name), nil
}

func (s *FileSessionStore) Save(_ context.Context, snap conversation.Snapshot) error {
	path, err := s.path(snap.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return writeFileAtomic(path, data)
}

func (s *FileSessionStore) Load(_ context.Context, id string) (conversation.Snapshot, error) {
	path, err := s.path(id)
	if err != nil {
		return conversation.Snapshot{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return conversation.Snapshot{}, ErrStoreClosed
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return conversation.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return conversation.Snapshot{}, err
	}
	return decodeSnapshot(data)
}

func (s *FileSessionStore) List(_ context.Context, opts ListOptions) ([]conversation.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}

	out := make([]conversation.Snapshot, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.baseDir, e.Name()))
		if err != nil {
			return nil, err
		}
		snap, err := decodeSnapshot(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		out = append(out, snap)
	}
	return filterSnapshots(out, opts), nil
}

func (s *FileSessionStore) Delete(_ context.Context, id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// ====== 文件工具 ======

// fileName 将外部 ID 编码为安全文件名，防止路径穿越
func fileName(id string) (string, error) {
	if id == "" || id == "." || id == ".." {
		return "", fmt.Errorf("%w: id %q", ErrInvalidInput, id)
	}
	var b strings.Builder
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String() + ".json", nil
}

// writeFileAtomic 先写临时文件再 rename，读者不会看到半个文件
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
