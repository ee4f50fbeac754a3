// =============================================================================
// DialogueFlow 主入口
// =============================================================================
// 多角色对话编排入口点，包含配置加载、信号处理、Prometheus 指标
//
// 使用方法:
//
//	dialogueflow run                       # 运行一场对话
//	dialogueflow run --config config.yaml  # 指定配置文件
//	dialogueflow version                   # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/dialogueflow/config"
	"github.com/BaSui01/dialogueflow/internal/metrics"
	"github.com/BaSui01/dialogueflow/orchestrator"
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
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runDialogue(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🗣️ run 命令
// =============================================================================

func runDialogue(args []string) {
	// 解析命令行参数
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	// 加载配置
	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting DialogueFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	// 从环境变量解析各后端凭证
	creds, err := config.ResolveCredentials(cfg)
	if err != nil {
		logger.Error("凭证解析失败", zap.Error(err))
		os.Exit(1)
	}

	// 信号感知 context，Ctrl-C / SIGTERM 取消整场对话
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector("dialogueflow", nil, logger)

	orch, err := orchestrator.New(cfg, creds, logger, collector)
	if err != nil {
		logger.Error("编排器构造失败", zap.Error(err))
		os.Exit(1)
	}
	defer func() {
		if cerr := orch.Close(); cerr != nil {
			logger.Warn("资源释放失败", zap.Error(cerr))
		}
	}()

	if err := orch.Run(ctx); err != nil {
		logger.Error("对话运行失败", zap.Error(err))
		orch.Close()
		os.Exit(1)
	}

	logger.Info("DialogueFlow finished", zap.String("transcript", orch.TranscriptPath()))
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("DialogueFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`DialogueFlow - Multi-character dialogue orchestrator

Usage:
  dialogueflow <command> [options]

Commands:
  run       Run a full dialogue session
  version   Show version information
  help      Show this help message

Options for 'run':
  --config <path>   Path to configuration file (YAML)

Credentials are taken from environment variables per provider:
  <PROVIDER>_API_URL and <PROVIDER>_API_KEY, where PROVIDER is the
  upper-cased prefix before the first '/' of each configured model.

Examples:
  dialogueflow run
  dialogueflow run --config config.yaml
  dialogueflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	// 构建配置
	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	// 构建 logger
	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
