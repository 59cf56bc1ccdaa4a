package sandbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

type runtime struct {
	command []string
	ext     string
}

// ProcessBackend runs code as a local child process. It isolates runs by
// working directory only and is meant for trusted environments.
type ProcessBackend struct {
	runtimes map[Language]runtime
	logger   *zap.Logger
}

// NewProcessBackend creates a process-based execution backend.
func NewProcessBackend(logger *zap.Logger) *ProcessBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessBackend{
		runtimes: map[Language]runtime{
			LangPython:     {command: []string{"python3"}, ext: ".py"},
			LangBash:       {command: []string{"bash"}, ext: ".sh"},
			LangShell:      {command: []string{"sh"}, ext: ".sh"},
			LangJavaScript: {command: []string{"node"}, ext: ".js"},
		},
		logger: logger.With(zap.String("backend", "process")),
	}
}

func (p *ProcessBackend) Name() string { return "process" }

// Execute 把代码写入 dir 下以内容哈希命名的文件后执行
func (p *ProcessBackend) Execute(ctx context.Context, dir string, req ExecutionRequest, cfg Config) (*ExecutionResult, error) {
	rt, ok := p.runtimes[req.Language]
	if !ok {
		return nil, fmt.Errorf("no runtime for language %s", req.Language)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	sum := sha256.Sum256([]byte(req.Code))
	name := "tmp_code_" + hex.EncodeToString(sum[:8]) + rt.ext
	if err := os.WriteFile(filepath.Join(dir, name), []byte(req.Code), 0o644); err != nil {
		return nil, fmt.Errorf("write code file: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	args := append(append([]string(nil), rt.command[1:]...), name)
	cmd := exec.CommandContext(runCtx, rt.command[0], args...)
	cmd.Dir = dir
	cmd.Env = buildEnv(dir, req.Env)
	stdout := newLimitedBuffer(cfg.MaxOutputBytes)
	stderr := newLimitedBuffer(cfg.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	var killErr error
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		killErr = killProcessGroup(cmd)
		return killErr
	}
	grace := cfg.KillGrace
	if grace <= 0 {
		grace = DefaultConfig().KillGrace
	}
	cmd.WaitDelay = grace

	start := time.Now()
	err := cmd.Run()
	result := &ExecutionResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
		Duration:  time.Since(start),
	}

	timedOut := runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
	if timedOut || ctx.Err() != nil {
		if (killErr != nil && !errors.Is(killErr, os.ErrProcessDone)) || errors.Is(err, exec.ErrWaitDelay) {
			p.logger.Error("process did not terminate", zap.Error(err), zap.NamedError("kill_error", killErr))
			return result, fmt.Errorf("%w: %v", ErrTerminateFailed, errors.Join(killErr, err))
		}
	}
	if timedOut {
		result.TimedOut = true
		result.ExitCode = TimeoutExitCode
		if result.Stderr != "" {
			result.Stderr += "\n"
		}
		result.Stderr += fmt.Sprintf("Timeout after %s", req.Timeout)
		return result, nil
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		return result, fmt.Errorf("run %s: %w", rt.command[0], err)
	}
	return result, nil
}

func buildEnv(dir string, extra map[string]string) []string {
	env := []string{"HOME=" + dir, "PATH=" + os.Getenv("PATH")}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// limitedBuffer 只保留前 limit 字节
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newLimitedBuffer(limit int) *limitedBuffer {
	return &limitedBuffer{limit: limit}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
