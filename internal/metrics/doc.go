/*
包 metrics 提供 kiboserve 的 Prometheus 指标采集。

# 核心类型

  - Collector：持有全部 Counter、Histogram、Gauge，通过 promauto.With
    注册到传入的 Registerer（nil 时使用默认 Registry）。

# 指标分组

  - HTTP：请求总数、耗时、响应体大小，状态码归类为 2xx/3xx/4xx/5xx
  - 摄入：span 写入与丢弃计数、tracer 关闭的 trace 计数
  - 服务发现：心跳计数、agent 健康状态转换
  - 评估：评估次数（按打分方式与结果）、judge 延迟与 token 用量
  - 会话代理：对话请求计数与往返耗时
  - 缓存与数据库：flag/param 缓存命中率，连接池统计（实现 database.StatsObserver）
  - 实时推送：websocket 订阅者数量
*/
package metrics
