/*
包 providers 提供 LLM Provider 的公共基础层：OpenAI 兼容线上格式、
HTTP 错误映射与重试包装。

# 核心类型

  - BaseProviderConfig：APIKey、BaseURL、Model、Timeout
  - OpenAICompat*：chat completions 请求/响应/错误结构体
  - RetryableProvider：对可重试的 llm.Error 做指数退避

# 核心函数

  - MapHTTPError：HTTP 状态码到 llm.Error 的映射（含 Retryable 标记）
  - ReadErrorMessage：解析上游错误响应
  - ConvertMessagesToOpenAI / ToLLMChatResponse：格式转换
  - ChooseModel：请求 > 默认 > 兜底
*/
package providers
