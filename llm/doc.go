/*
包 llm 定义 kiboserve 与大模型交互的最小契约：Provider 接口、聊天请求/
响应类型与结构化错误。评估器通过它调用 LLM judge。

# 核心类型

  - Provider：Completion / HealthCheck / Name
  - ChatRequest / ChatResponse：消息、模型、max_tokens、temperature 与用量
  - Error / ErrorCode：上游错误归类，Retryable 决定是否重试

# 子包

  - llm/providers：OpenAI 兼容线上格式、错误映射与重试包装
  - llm/providers/openaicompat：OpenAI 兼容的同步补全实现
  - llm/tokenizer：tiktoken 计数与字符估算
*/
package llm
