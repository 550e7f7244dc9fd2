package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/D10S0VSkY-OSS/kiboserve/api/handlers"
	"github.com/D10S0VSkY-OSS/kiboserve/config"
	"github.com/D10S0VSkY-OSS/kiboserve/internal/cache"
	"github.com/D10S0VSkY-OSS/kiboserve/internal/database"
	"github.com/D10S0VSkY-OSS/kiboserve/internal/metrics"
	"github.com/D10S0VSkY-OSS/kiboserve/internal/server"
	"github.com/D10S0VSkY-OSS/kiboserve/internal/telemetry"
	"github.com/D10S0VSkY-OSS/kiboserve/llm/tokenizer"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/collector"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/discovery"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/evaluator"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/flags"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/prompts"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/sessions"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// skipAuthPaths 不需要认证的端点
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/version"}

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 kiboserve 的主服务器：API 端口承载 /api 与健康检查，
// metrics 端口单独暴露 /metrics
type Server struct {
	cfg    *config.Config
	build  handlers.BuildInfo
	logger *zap.Logger

	registry  *prometheus.Registry
	metrics   *metrics.Collector
	telemetry *telemetry.Providers

	pool    *database.PoolManager
	store   *store.Store
	cache   *cache.Manager
	monitor *discovery.Monitor
	live    *handlers.LiveHub

	httpManager    *server.Manager
	metricsManager *server.Manager

	// 停止限流器清理 goroutine
	limiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, build handlers.BuildInfo, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		build:  build,
		logger: logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化全部组件并启动两个 HTTP 服务器（非阻塞）。
// ctx 控制后台 goroutine（心跳监控）的生命周期。
func (s *Server) Start(ctx context.Context) error {
	// 1. 指标与 OpenTelemetry
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = metrics.NewCollector(metrics.DefaultNamespace, s.registry, s.logger)

	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry, continuing without export", zap.Error(err))
		providers = &telemetry.Providers{}
	}
	s.telemetry = providers

	// 2. 存储
	if err := s.initStorage(ctx); err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}

	// 3. 业务服务与路由
	routes := s.initHandlers()
	s.monitor.Start(ctx)

	// 4. HTTP 服务器
	if err := s.startHTTPServer(routes); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("all servers started",
		zap.String("api_addr", s.httpManager.Addr()),
		zap.String("metrics_addr", s.metricsManager.Addr()),
		zap.Bool("tls", s.cfg.Server.TLSEnabled()),
		zap.Bool("redis_cache", s.cache != nil),
		zap.Bool("telemetry", s.telemetry.Enabled()),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initStorage 打开数据库与连接池，按需建表，并在启用时连接 Redis
func (s *Server) initStorage(ctx context.Context) error {
	db, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		return err
	}
	pool, err := database.NewPoolManager(db, database.PoolConfigFrom(s.cfg.Database), s.metrics, s.logger)
	if err != nil {
		return err
	}
	s.pool = pool
	s.store = store.New(pool.DB(), s.logger, store.WithTransactor(pool))

	if s.cfg.Database.AutoMigrate {
		if err := s.store.Migrate(ctx); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
		s.logger.Info("database schema migrated", zap.String("driver", s.cfg.Database.Driver))
	}

	if s.cfg.Redis.Enabled {
		cm, err := cache.NewManager(cache.ConfigFrom(s.cfg.Redis), s.logger)
		if err != nil {
			// flag 缓存是可选的，Redis 不可用时直接读库
			s.logger.Warn("redis unavailable, flag cache disabled", zap.Error(err))
		} else {
			cm.SetObserver(s.metrics)
			s.cache = cm
		}
	}
	return nil
}

// initHandlers 组装业务服务并返回路由处理器集合
func (s *Server) initHandlers() *handlers.Set {
	origins := s.cfg.Server.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.live = handlers.NewLiveHub(origins, s.metrics, s.logger)

	collectorOpts := []collector.Option{
		collector.WithRecorder(s.metrics),
		collector.WithPublisher(s.live),
	}
	if mirror := s.telemetry.MirrorTracer(); mirror != nil {
		collectorOpts = append(collectorOpts, collector.WithMirror(mirror))
	}
	spans := collector.New(s.store, s.logger, collectorOpts...)

	registry := discovery.NewService(s.store, discovery.ConfigFrom(s.cfg.Discovery), s.logger,
		discovery.WithRecorder(s.metrics))
	s.monitor = discovery.NewMonitor(registry)

	var flagOpts []flags.Option
	if s.cache != nil {
		flagOpts = append(flagOpts, flags.WithCache(s.cache, s.cfg.Redis.TTL))
	}
	resolver := flags.NewResolver(s.store, s.logger, flagOpts...)

	evalOpts := []evaluator.Option{evaluator.WithRecorder(s.metrics)}
	if judge := evaluator.JudgeFromConfig(s.cfg.Evaluator, s.metrics, s.logger); judge != nil {
		evalOpts = append(evalOpts, evaluator.WithJudge(judge))
	}
	if s.cfg.Evaluator.TokenStats {
		evalOpts = append(evalOpts, evaluator.WithTokenCounter(tokenizer.ForModel(s.cfg.Evaluator.Model)))
	}
	evals := evaluator.New(s.store, s.logger, evalOpts...)

	promptSvc := prompts.NewService(s.store, s.logger)
	sessionSvc := sessions.NewService(s.store, registry, evals, s.cfg.Chat, s.logger,
		sessions.WithRecorder(s.metrics))

	health := handlers.NewHealthHandler(s.build, s.logger)
	health.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	if s.cache != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", s.cache.Ping))
	}

	s.logger.Info("handlers initialized",
		zap.Bool("llm_judge", evals.JudgeEnabled()),
		zap.Bool("token_stats", s.cfg.Evaluator.TokenStats),
	)

	return &handlers.Set{
		Health:    health,
		Traces:    handlers.NewTraceHandler(s.store, spans, s.logger),
		Live:      s.live,
		Discovery: handlers.NewDiscoveryHandler(registry, s.logger),
		Flags:     handlers.NewFlagHandler(resolver, s.logger),
		Prompts:   handlers.NewPromptHandler(promptSvc, s.logger),
		Evals:     handlers.NewEvalHandler(evals, sessionSvc, s.logger),
		Sessions:  handlers.NewSessionHandler(sessionSvc, s.logger),
	}
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// buildHandler 注册路由并套上中间件链
func (s *Server) buildHandler(routes *handlers.Set, limiterCtx context.Context) http.Handler {
	mux := http.NewServeMux()
	routes.Register(mux)

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metrics),
		OTelTracing(s.telemetry.Tracer()),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(limiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger))
	}
	switch {
	case s.cfg.Server.JWT.Enabled():
		middlewares = append(middlewares, JWTAuth(s.cfg.Server.JWT, skipAuthPaths, s.logger))
	case len(s.cfg.Server.APIKeys) > 0:
		middlewares = append(middlewares,
			APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger))
	default:
		s.logger.Warn("no API keys or JWT configured, API is unauthenticated")
	}
	return Chain(mux, middlewares...)
}

// startHTTPServer 启动 API 服务器
func (s *Server) startHTTPServer(routes *handlers.Set) error {
	limiterCtx, cancel := context.WithCancel(context.Background())
	s.limiterCancel = cancel

	serverConfig, err := server.ConfigFrom(s.cfg.Server, s.cfg.Server.HTTPPort)
	if err != nil {
		return err
	}
	s.httpManager = server.NewManager("api", s.buildHandler(routes, limiterCtx), serverConfig, s.logger)
	return s.httpManager.Start()
}

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	serverConfig, err := server.ConfigFrom(s.cfg.Server, s.cfg.Server.MetricsPort)
	if err != nil {
		return err
	}
	serverConfig.TLS = nil
	s.metricsManager = server.NewManager("metrics", mux, serverConfig, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Wait 阻塞到 ctx 取消或任一服务器异常退出
func (s *Server) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-s.httpManager.Errors():
		return fmt.Errorf("api server: %w", err)
	case err := <-s.metricsManager.Errors():
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Shutdown 按依赖逆序优雅关闭：先停止接收请求，再停后台任务，最后释放存储
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("starting graceful shutdown")
	var errs []error

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("api server: %w", err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if s.limiterCancel != nil {
		s.limiterCancel()
	}
	if s.monitor != nil {
		s.monitor.Stop()
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("graceful shutdown finished with errors", zap.Error(err))
		return err
	}
	s.logger.Info("graceful shutdown completed")
	return nil
}
