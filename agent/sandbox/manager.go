package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"go.uber.org/zap"
)

var unsafeDirChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Manager 为每个会话分配独立的工作目录与执行器
type Manager struct {
	config  Config
	backend Backend
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[string]*SandboxExecutor
}

// NewManager creates a manager rooted at config.WorkRoot.
func NewManager(config Config, backend Backend, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if config.WorkRoot == "" {
		config.WorkRoot = def.WorkRoot
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.KillGrace <= 0 {
		config.KillGrace = def.KillGrace
	}
	if backend == nil {
		backend = NewProcessBackend(logger)
	}
	return &Manager{
		config:   config,
		backend:  backend,
		logger:   logger.With(zap.String("component", "sandbox_manager")),
		sessions: make(map[string]*SandboxExecutor),
	}
}

// For returns the executor of a session, creating its directory on first use.
func (m *Manager) For(sessionID string) (*SandboxExecutor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ex, ok := m.sessions[sessionID]; ok {
		return ex, nil
	}
	dir := filepath.Join(m.config.WorkRoot, dirName(sessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox dir: %w", err)
	}
	ex := NewSandboxExecutor(dir, m.config, m.backend, m.logger)
	m.sessions[sessionID] = ex
	m.logger.Debug("sandbox created", zap.String("session_id", sessionID), zap.String("dir", dir))
	return ex, nil
}

// Release removes the session's directory.
func (m *Manager) Release(sessionID string) error {
	m.mu.Lock()
	ex, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.RemoveAll(ex.dir); err != nil {
		m.logger.Warn("sandbox cleanup failed", zap.String("session_id", sessionID), zap.Error(err))
		return err
	}
	return nil
}

// Dir returns the working directory of a session's sandbox.
func (m *Manager) Dir(sessionID string) string {
	return filepath.Join(m.config.WorkRoot, dirName(sessionID))
}

func dirName(sessionID string) string {
	name := unsafeDirChars.ReplaceAllString(sessionID, "_")
	if name == "" || name == "." || name == ".." {
		name = "session"
	}
	return name
}
