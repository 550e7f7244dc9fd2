/*
Package discovery 实现 Agent 注册中心与基于心跳的健康巡检。

# 核心类型

  - Service：Register / Heartbeat / Deregister / GetAgent / ListAgents，
    对同一 agent_id 的写操作串行执行。
  - Monitor：后台巡检，超过 heartbeat_interval_s * StaleMultiplier
    未收到心跳的 Agent 被标记为 unreachable。

# 状态规则

心跳上报的状态按以下顺序判定：busy 优先；其次 error_count_last_5m
达到 ErrorThreshold 时为 degraded；再次为可识别的上报状态；否则
healthy。unreachable 只能通过 Register 或 Heartbeat 恢复。
*/
package discovery
