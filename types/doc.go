/*
Package types 提供 kiboserve 跨包共享的结构化错误。

# 核心类型

  - ErrorCode：统一错误码（INVALID_REQUEST、NOT_FOUND、CONFLICT、UPSTREAM_ERROR 等）
  - Error：错误码、消息、HTTP 状态、Retryable 与底层原因

# 主要函数

  - NewError / NotFound / InvalidRequest：构造错误
  - WithCause / WithHTTPStatus / WithRetryable：补充错误信息
  - AsError / GetErrorCode / IsNotFound / IsRetryable：判断错误

api/handlers 根据 ErrorCode 映射 HTTP 状态码，SDK 客户端把服务端返回的
错误信封还原为 *Error。
*/
package types
