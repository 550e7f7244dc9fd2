// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// DefaultNamespace Prometheus 指标前缀
const DefaultNamespace = "kiboserve"

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 观测数据摄入
	spansIngested *prometheus.CounterVec
	spansRejected *prometheus.CounterVec
	tracesClosed  *prometheus.CounterVec

	// 服务发现
	heartbeatsTotal  *prometheus.CounterVec
	agentTransitions *prometheus.CounterVec

	// 评估
	evaluationsTotal *prometheus.CounterVec
	judgeDuration    *prometheus.HistogramVec
	judgeTokens      *prometheus.CounterVec

	// 会话代理
	chatRequestsTotal *prometheus.CounterVec
	chatDuration      prometheus.Histogram

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库连接池
	dbConnectionsOpen  prometheus.Gauge
	dbConnectionsInUse prometheus.Gauge
	dbConnectionsIdle  prometheus.Gauge
	dbWaitCount        prometheus.Gauge

	// 实时推送
	liveSubscribers prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 创建指标收集器，reg 为 nil 时注册到默认 Registry
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.httpRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	c.httpRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})
	c.httpResponseSize = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
	}, []string{"method", "path"})

	c.spansIngested = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "spans_ingested_total",
		Help:      "Spans persisted, by source (tracer, collector)",
	}, []string{"source"})
	c.spansRejected = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "spans_rejected_total",
		Help:      "Spans dropped during ingestion, by reason",
	}, []string{"reason"})
	c.tracesClosed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "traces_closed_total",
		Help:      "Traces closed by the in-process tracer, by status",
	}, []string{"status"})

	c.heartbeatsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "agent_heartbeats_total",
		Help:      "Agent heartbeats received, by reported status",
	}, []string{"status"})
	c.agentTransitions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "agent_status_transitions_total",
		Help:      "Agent health status transitions",
	}, []string{"agent_id", "from_status", "to_status"})

	c.evaluationsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evaluations_total",
		Help:      "Evaluations run, by scoring method and final status",
	}, []string{"method", "status"})
	c.judgeDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "judge_request_duration_seconds",
		Help:      "LLM judge call latency in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"model", "outcome"})
	c.judgeTokens = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "judge_tokens_total",
		Help:      "Tokens sent to and received from the LLM judge",
	}, []string{"model", "type"})

	c.chatRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chat_requests_total",
		Help:      "Chat messages proxied to agents, by outcome",
	}, []string{"status"})
	c.chatDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "chat_request_duration_seconds",
		Help:      "Agent round-trip latency for proxied chat messages",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	c.cacheHits = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Total number of cache hits",
	}, []string{"cache"})
	c.cacheMisses = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Total number of cache misses",
	}, []string{"cache"})

	c.dbConnectionsOpen = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_open",
		Help:      "Number of open database connections",
	})
	c.dbConnectionsInUse = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_in_use",
		Help:      "Number of database connections in use",
	})
	c.dbConnectionsIdle = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_idle",
		Help:      "Number of idle database connections",
	})
	c.dbWaitCount = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_connections_wait_count",
		Help:      "Cumulative number of waits for a database connection",
	})

	c.liveSubscribers = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_subscribers",
		Help:      "Connected live-feed websocket clients",
	})

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔭 观测数据
// =============================================================================

// RecordSpansIngested 记录成功写入的 span 数
func (c *Collector) RecordSpansIngested(source string, n int) {
	if n > 0 {
		c.spansIngested.WithLabelValues(source).Add(float64(n))
	}
}

// RecordSpanRejected 记录被丢弃的 span
func (c *Collector) RecordSpanRejected(reason string) {
	c.spansRejected.WithLabelValues(reason).Inc()
}

// RecordTraceClosed 记录 tracer 关闭的 trace
func (c *Collector) RecordTraceClosed(status string) {
	c.tracesClosed.WithLabelValues(status).Inc()
}

// =============================================================================
// 🛰️ 服务发现
// =============================================================================

// RecordHeartbeat 记录心跳
func (c *Collector) RecordHeartbeat(status string) {
	c.heartbeatsTotal.WithLabelValues(status).Inc()
}

// RecordAgentTransition 记录 agent 健康状态转换
func (c *Collector) RecordAgentTransition(agentID, from, to string) {
	c.agentTransitions.WithLabelValues(agentID, from, to).Inc()
}

// =============================================================================
// ⚖️ 评估
// =============================================================================

// RecordEvaluation 记录一次评估，method 为 llm_judge 或 heuristic
func (c *Collector) RecordEvaluation(method, status string) {
	c.evaluationsTotal.WithLabelValues(method, status).Inc()
}

// RecordJudgeCall 记录一次 LLM judge 调用
func (c *Collector) RecordJudgeCall(model string, ok bool, duration time.Duration) {
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	c.judgeDuration.WithLabelValues(model, outcome).Observe(duration.Seconds())
}

// RecordJudgeTokens 记录 judge 的 prompt/completion token 数
func (c *Collector) RecordJudgeTokens(model string, prompt, completion int) {
	c.judgeTokens.WithLabelValues(model, "prompt").Add(float64(prompt))
	c.judgeTokens.WithLabelValues(model, "completion").Add(float64(completion))
}

// =============================================================================
// 💬 会话代理
// =============================================================================

// RecordChat 记录一次代理到 agent 的对话
func (c *Collector) RecordChat(status string, duration time.Duration) {
	c.chatRequestsTotal.WithLabelValues(status).Inc()
	c.chatDuration.Observe(duration.Seconds())
}

// =============================================================================
// 💾 缓存与数据库
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cache string) {
	c.cacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cache string) {
	c.cacheMisses.WithLabelValues(cache).Inc()
}

// ObserveDBPool 实现 database.StatsObserver
func (c *Collector) ObserveDBPool(stats sql.DBStats) {
	c.dbConnectionsOpen.Set(float64(stats.OpenConnections))
	c.dbConnectionsInUse.Set(float64(stats.InUse))
	c.dbConnectionsIdle.Set(float64(stats.Idle))
	c.dbWaitCount.Set(float64(stats.WaitCount))
}

// =============================================================================
// 📡 实时推送
// =============================================================================

// LiveSubscriberConnected websocket 客户端接入
func (c *Collector) LiveSubscriberConnected() { c.liveSubscribers.Inc() }

// LiveSubscriberDisconnected websocket 客户端断开
func (c *Collector) LiveSubscriberDisconnected() { c.liveSubscribers.Dec() }

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusClass 将 HTTP 状态码归类为 2xx/3xx/4xx/5xx
func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
