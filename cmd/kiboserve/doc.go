/*
Package main 提供 kiboserve 服务端程序入口。

# 概述

cmd/kiboserve 提供 HTTP API 服务、数据库迁移、健康检查和版本查询等子命令。
serve 启动时按配置打开数据库（sqlite/postgres/mysql），可选连接 Redis
作为 flag 缓存，启动心跳监控，并在独立端口暴露 Prometheus 指标。

# 核心类型

  - Server：组装存储、业务服务与路由，管理 api 与 metrics 两个 server.Manager
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 中间件链

Recovery → RequestID → SecurityHeaders → RequestLogger → MetricsMiddleware →
OTelTracing → CORS → RateLimiter → APIKeyAuth | JWTAuth。
配置了 JWT 时使用 JWTAuth，否则配置了 API Key 时使用 APIKeyAuth；
/health、/healthz、/ready、/version 不需要认证。

# 关闭顺序

收到 SIGINT/SIGTERM 后依次关闭 API 服务器、metrics 服务器、限流清理、
心跳监控、OpenTelemetry、Redis 与数据库连接池。
*/
package main
