package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Lynn-1221/Agents/types"
	"go.uber.org/zap"
)

// Language represents supported programming languages.
type Language string

const (
	LangPython     Language = "python"
	LangBash       Language = "bash"
	LangShell      Language = "sh"
	LangJavaScript Language = "javascript"
)

// ErrTerminateFailed 超时后未能终止进程
var ErrTerminateFailed = errors.New("sandbox: process did not terminate")

// TimeoutExitCode 超时的退出码，与 coreutils timeout 一致
const TimeoutExitCode = 124

// Config configures the sandbox executor.
type Config struct {
	WorkRoot         string        `json:"work_root" yaml:"work_root"`
	Timeout          time.Duration `json:"timeout" yaml:"timeout"`
	KillGrace        time.Duration `json:"kill_grace" yaml:"kill_grace"`
	MaxOutputBytes   int           `json:"max_output_bytes" yaml:"max_output_bytes"`
	AllowedLanguages []Language    `json:"allowed_languages" yaml:"allowed_languages"`
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		WorkRoot:         "coding",
		Timeout:          60 * time.Second,
		KillGrace:        2 * time.Second,
		MaxOutputBytes:   64 * 1024,
		AllowedLanguages: []Language{LangPython, LangBash, LangShell},
	}
}

// ExecutionRequest represents a code execution request.
type ExecutionRequest struct {
	Language Language          `json:"language"`
	Code     string            `json:"code"`
	Timeout  time.Duration     `json:"timeout,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
}

// ExecutionResult represents the result of code execution.
type ExecutionResult struct {
	ExitCode  int           `json:"exit_code"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	TimedOut  bool          `json:"timed_out,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Output returns stdout followed by stderr.
func (r *ExecutionResult) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Executor is the sandboxed executor contract.
type Executor interface {
	Run(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// Backend runs one request inside dir.
type Backend interface {
	Execute(ctx context.Context, dir string, req ExecutionRequest, cfg Config) (*ExecutionResult, error)
	Name() string
}

// ExecutorStats tracks execution statistics.
type ExecutorStats struct {
	TotalExecutions   int64 `json:"total_executions"`
	FailedExecutions  int64 `json:"failed_executions"`
	TimeoutExecutions int64 `json:"timeout_executions"`
}

// SandboxExecutor validates requests and runs them through a backend in a fixed directory.
type SandboxExecutor struct {
	dir       string
	config    Config
	backend   Backend
	validator *CodeValidator
	logger    *zap.Logger

	mu    sync.Mutex
	stats ExecutorStats
}

// NewSandboxExecutor creates an executor bound to dir.
func NewSandboxExecutor(dir string, config Config, backend Backend, logger *zap.Logger) *SandboxExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.MaxOutputBytes <= 0 {
		config.MaxOutputBytes = DefaultConfig().MaxOutputBytes
	}
	return &SandboxExecutor{
		dir:       dir,
		config:    config,
		backend:   backend,
		validator: NewCodeValidator(),
		logger:    logger.With(zap.String("component", "sandbox"), zap.String("dir", dir)),
	}
}

// Run executes the request. The effective timeout is the smaller of the
// request timeout and the configured one.
func (s *SandboxExecutor) Run(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	if warnings := s.validator.Validate(req.Language, req.Code); len(warnings) > 0 {
		s.logger.Warn("code validation warnings", zap.Strings("warnings", warnings))
	}

	timeout := s.config.Timeout
	if req.Timeout > 0 && req.Timeout < timeout {
		timeout = req.Timeout
	}
	req.Timeout = timeout

	s.logger.Debug("executing code",
		zap.String("language", string(req.Language)),
		zap.Int("code_length", len(req.Code)),
		zap.Duration("timeout", timeout))

	result, err := s.backend.Execute(ctx, s.dir, req, s.config)

	s.mu.Lock()
	s.stats.TotalExecutions++
	if err != nil || result.ExitCode != 0 {
		s.stats.FailedExecutions++
	}
	if result != nil && result.TimedOut {
		s.stats.TimeoutExecutions++
	}
	s.mu.Unlock()

	return result, err
}

func (s *SandboxExecutor) validate(req ExecutionRequest) error {
	if req.Code == "" {
		return types.NewError(types.ErrInvalidRequest, "code is required")
	}
	for _, lang := range s.config.AllowedLanguages {
		if lang == req.Language {
			return nil
		}
	}
	return types.Errorf(types.ErrInvalidRequest, "language %s is not allowed", req.Language)
}

// Stats returns execution statistics.
func (s *SandboxExecutor) Stats() ExecutorStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// IsAllowed reports whether lang may run in this sandbox.
func (s *SandboxExecutor) IsAllowed(lang Language) bool {
	return s.validate(ExecutionRequest{Language: lang, Code: "x"}) == nil
}

func (c Config) String() string {
	return fmt.Sprintf("sandbox(root=%s timeout=%s)", c.WorkRoot, c.Timeout)
}
