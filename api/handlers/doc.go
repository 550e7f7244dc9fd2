/*
Package handlers 实现 kiboserve 的 HTTP 端点。

# 概述

每组路由对应一个 Handler，依赖以小接口注入（TraceStore、Ingester、
Registry、FlagResolver、PromptService、EvalService、EvalSetService、
SessionService），生产环境由 studio 下的各服务实现，测试可替换。
路由使用 Go 1.22 ServeMux 的方法与路径模式，路径参数通过
r.PathValue 读取。

# 核心类型

  - TraceHandler：span 摄入与 trace 查询
  - LiveHub：实现 collector.Publisher，通过 websocket 推送摄入事件
  - DiscoveryHandler：Agent 注册、心跳、查询与注销
  - FlagHandler：flag 与参数的读取（默认合并 _global）、写入与删除
  - PromptHandler：模板与版本管理、按名称获取激活版本
  - EvalHandler：单 trace 评估、结果查询与 eval set
  - SessionHandler：会话、消息与 /chat 代理
  - HealthHandler：/health、/healthz、/ready、/version

# 响应格式

成功与失败统一为 Response 信封：success、data、error{code, message,
retryable}、timestamp、request_id。*types.Error 的错误码经
mapErrorCodeToHTTPStatus 映射为 HTTP 状态码，其他错误视为 500。
*/
package handlers
