/*
包 sessions 实现 Studio 的对话会话、Agent 对话代理与 eval set 批量评估。

# 核心流程

  - SendMessage：保存用户消息，经服务发现找到 Agent，将 {"prompt": content}
    POST 到 <endpoint>/invocations（X-Request-Id 为用户消息 ID），保存
    助手回复并关联该 Agent 最近一条 trace；失败时保存 error 消息。
  - Forward：原样转发 JSON 请求体到 Agent 并返回其 JSON 响应。
  - RunEvalSet：对每个包含用户消息的 case，评估其第一条助手消息关联的
    trace；case 之间并发执行（errgroup，上限 ChatConfig.EvalConcurrency），
    结果保持输入顺序。

# 错误语义

未知会话、Agent、eval set 返回 NOT_FOUND；Agent 不可达或返回非 JSON 时返回
UPSTREAM_ERROR，由 API 层映射为 502。
*/
package sessions
