package batch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Lynn-1221/Agents/agent/persistence"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// UnitFunc 处理一个单元，返回要写入记录的结果
type UnitFunc func(ctx context.Context, u Unit) (any, error)

// Config 批处理配置
type Config struct {
	// Concurrency 同时处理的单元数
	Concurrency int `json:"concurrency" yaml:"concurrency"`
	// SkipExisting 已有记录的单元直接跳过，用于断点续跑
	SkipExisting bool `json:"skip_existing" yaml:"skip_existing"`
	// UnitTimeout 单个单元的超时，0 表示不限制
	UnitTimeout time.Duration `json:"unit_timeout" yaml:"unit_timeout"`
}

// DefaultConfig returns the default batch configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:  4,
		SkipExisting: true,
	}
}

// UnitError 单个单元的失败
type UnitError struct {
	ID  string
	Err error
}

func (e UnitError) Error() string {
	return fmt.Sprintf("unit %s: %v", e.ID, e.Err)
}

func (e UnitError) Unwrap() error { return e.Err }

// Report 批次运行结果
type Report struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    []UnitError
	Duration  time.Duration
}

// Runner runs a UnitFunc over units and writes one record per unit.
type Runner struct {
	config Config
	writer *persistence.RecordWriter
	logger *zap.Logger
}

// NewRunner creates a runner. writer may be nil, in which case results are discarded.
func NewRunner(config Config, writer *persistence.RecordWriter, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	return &Runner{
		config: config,
		writer: writer,
		logger: logger.With(zap.String("component", "batch_runner")),
	}
}

// Run processes every unit. Unit failures are collected in the report; the
// returned error is non-nil only when ctx ends before all units are started.
func (r *Runner) Run(ctx context.Context, units []Unit, fn UnitFunc) (*Report, error) {
	start := time.Now()
	report := &Report{Total: len(units)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)

	for _, u := range units {
		if gctx.Err() != nil {
			break
		}
		if r.config.SkipExisting && r.writer != nil && r.writer.Exists(u.ID) {
			r.logger.Debug("record exists, skipping", zap.String("id", u.ID))
			mu.Lock()
			report.Skipped++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			err := r.runOne(gctx, u, fn)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, UnitError{ID: u.ID, Err: err})
				return nil
			}
			report.Succeeded++
			return nil
		})
	}

	_ = g.Wait()
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].ID < report.Failed[j].ID })
	report.Duration = time.Since(start)

	r.logger.Info("batch finished",
		zap.Int("total", report.Total),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("duration", report.Duration))

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (r *Runner) runOne(ctx context.Context, u Unit, fn UnitFunc) error {
	if r.config.UnitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.UnitTimeout)
		defer cancel()
	}

	ts := time.Now()
	logger := r.logger.With(zap.String("id", u.ID))
	logger.Debug("processing unit")

	result, err := fn(ctx, u)
	if err != nil {
		logger.Warn("unit failed", zap.Error(err), zap.Duration("elapsed", time.Since(ts)))
		return err
	}
	if r.writer != nil {
		if err := r.writer.Write(u.ID, result); err != nil {
			logger.Error("failed to write record", zap.Error(err))
			return err
		}
	}
	logger.Info("unit processed", zap.Duration("elapsed", time.Since(ts)))
	return nil
}
