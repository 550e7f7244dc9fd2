// =============================================================================
// kiboserve 主入口
// =============================================================================
// Agent 观测与管理服务：trace 采集、服务发现、flag/param 下发、
// prompt 版本管理、评估与会话代理
//
// 使用方法:
//
//	kiboserve serve                       # 启动服务
//	kiboserve serve --config config.yaml  # 指定配置文件
//	kiboserve version                     # 显示版本信息
//	kiboserve health                      # 健康检查
//	kiboserve migrate up                  # 运行数据库迁移
//	kiboserve migrate down                # 回滚最后一次迁移
//	kiboserve migrate status              # 查看迁移状态
// =============================================================================

// @title kiboserve API
// @version 1.0.0
// @description Studio backend for kiboup agents: traces, discovery, flags, prompts and evaluations.
// @description
// @description ## Features
// @description - Span ingestion and live trace feed (websocket)
// @description - Agent registry with heartbeat health monitoring
// @description - Feature flags and params with a _global fallback
// @description - Versioned prompts, LLM-judge evaluations and eval sets

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8000
// @BasePath /api
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for authentication

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/D10S0VSkY-OSS/kiboserve/api/handlers"
	"github.com/D10S0VSkY-OSS/kiboserve/config"
	"github.com/D10S0VSkY-OSS/kiboserve/internal/tlsutil"
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
	case "serve":
		runServe(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting kiboserve",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *configPath != "" {
		reloader := config.NewHotReloadManager(cfg, *configPath, config.WithHotReloadLogger(logger))
		reloader.OnReload(func(_, newCfg *config.Config) {
			if l, err := zapcore.ParseLevel(newCfg.Log.Level); err == nil {
				level.SetLevel(l)
			}
		})
		if err := reloader.Start(ctx); err != nil {
			logger.Warn("config hot reload disabled", zap.Error(err))
		}
		defer reloader.Stop()
	}

	srv := NewServer(cfg, handlers.BuildInfo{Version: Version, BuildTime: BuildTime, GitCommit: GitCommit}, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Error("failed to start server", zap.Error(err))
		_ = srv.Shutdown(context.Background())
		os.Exit(1)
	}

	exitCode := 0
	if err := srv.Wait(ctx); err != nil {
		logger.Error("server stopped unexpectedly", zap.Error(err))
		exitCode = 1
	}
	stop()

	if err := srv.Shutdown(context.Background()); err != nil {
		exitCode = 1
	}
	logger.Info("kiboserve stopped")
	if exitCode != 0 {
		_ = logger.Sync()
		os.Exit(exitCode)
	}
}

// loadConfig 加载并校验配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8000", "Server address")
	endpoint := fs.String("endpoint", "/health", "Endpoint to probe (/health or /ready)")
	_ = fs.Parse(args)

	client := tlsutil.SecureHTTPClient(5 * time.Second)
	resp, err := client.Get(*addr + *endpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("kiboserve %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`kiboserve - studio backend for kiboup agents

Usage:
  kiboserve <command> [options]

Commands:
  serve     Start the API and metrics servers
  migrate   Database migration commands
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Migration subcommands:
  migrate up        Apply all pending migrations
  migrate down      Rollback the last migration
  migrate steps <n> Apply (n>0) or rollback (n<0) n migrations
  migrate status    Show migration status
  migrate version   Show current migration version
  migrate info      Show migration summary
  migrate goto <v>  Migrate to a specific version
  migrate force <v> Force set migration version
  migrate reset     Rollback all migrations

Examples:
  kiboserve serve
  kiboserve serve --config /etc/kiboserve/config.yaml
  kiboserve migrate up
  kiboserve migrate status
  kiboserve health --addr http://localhost:8000 --endpoint /ready
  kiboserve version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// initLogger 构建 logger，返回的 AtomicLevel 供热重载调整日志级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	console := cfg.Format == "console"
	var encoderConfig zapcore.EncoderConfig
	if console {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	atom := zap.NewAtomicLevelAt(level)
	zapConfig := zap.Config{
		Level:             atom,
		Development:       console,
		Encoding:          "json",
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}
	if console {
		zapConfig.Encoding = "console"
	}

	var opts []zap.Option
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	logger, err := zapConfig.Build(opts...)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger, atom
}
