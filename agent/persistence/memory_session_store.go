package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Lynn-1221/Agents/agent/conversation"
)

// MemorySessionStore 内存实现，适合开发和测试。
// 快照以 JSON 保存，读写互不共享切片。
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
	closed   bool
}

// NewMemorySessionStore creates an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string][]byte)}
}

func (s *MemorySessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemorySessionStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemorySessionStore) Save(_ context.Context, snap conversation.Snapshot) error {
	if snap.ID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.sessions[snap.ID] = data
	return nil
}

func (s *MemorySessionStore) Load(_ context.Context, id string) (conversation.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return conversation.Snapshot{}, ErrStoreClosed
	}
	data, ok := s.sessions[id]
	if !ok {
		return conversation.Snapshot{}, ErrNotFound
	}
	return decodeSnapshot(data)
}

func (s *MemorySessionStore) List(_ context.Context, opts ListOptions) ([]conversation.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make([]conversation.Snapshot, 0, len(s.sessions))
	for _, data := range s.sessions {
		snap, err := decodeSnapshot(data)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return filterSnapshots(out, opts), nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

func decodeSnapshot(data []byte) (conversation.Snapshot, error) {
	var snap conversation.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return snap, nil
}
