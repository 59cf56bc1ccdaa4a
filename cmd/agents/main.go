// =============================================================================
// Agents 主入口
// =============================================================================
// 多智能体会话路由服务与命令行工具
//
// 使用方法:
//
//	agents serve --config config.yaml              # 启动 HTTP 服务
//	agents run --def team.yaml --seed "..."        # 在终端运行一次会话
//	agents batch --def entity.yaml --csv in.csv    # 批量实体抽取
//	agents index --dir docs --out index.json       # 构建检索索引
//	agents migrate up                              # 运行数据库迁移
//	agents health                                  # 健康检查
//	agents version                                 # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Lynn-1221/Agents/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "run":
		err = runConversation(os.Args[2:], os.Stdin, os.Stdout)
	case "batch":
		err = runBatch(os.Args[2:], os.Stdout)
	case "index":
		err = runIndex(os.Args[2:], os.Stdout)
	case "migrate":
		err = runMigrate(os.Args[2:], os.Stdout)
	case "health":
		err = runHealthCheck(os.Args[2:], os.Stdout)
	case "version":
		printVersion(os.Stdout)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// loadConfig 加载并校验配置，path 为空时只使用默认值和环境变量
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting agents",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	srv := NewServer(cfg, logger)
	if err := srv.Start(context.Background()); err != nil {
		return err
	}
	if err := srv.WaitForShutdown(context.Background()); err != nil {
		logger.Error("shutdown finished with errors", zap.Error(err))
		return err
	}
	logger.Info("agents stopped")
	return nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/healthz")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	fmt.Fprintln(out, "OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "agents %s\n", Version)
	fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, `agents - multi-agent conversation router

Usage:
  agents <command> [options]

Commands:
  serve     Start the HTTP server
  run       Run one conversation in the terminal
  batch     Run the entity pipeline over a CSV file
  index     Build a retrieval index from a directory
  migrate   Database migration commands
  health    Check server health
  version   Show version information
  help      Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)

Examples:
  agents serve --config /etc/agents/config.yaml
  agents run --def team.yaml --seed "Plot NVDA and TSLA year to date"
  agents batch --def entity.yaml --csv papers.csv --out results --concurrency 8
  agents index --dir docs --out data/index.json
  agents migrate up
  agents health --addr http://localhost:8080`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		DisableCaller:    !cfg.EnableCaller,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
	if !cfg.EnableStacktrace {
		zapConfig.DisableStacktrace = true
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
