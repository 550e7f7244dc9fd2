package llm

import (
	"context"
	"strings"
	"time"
)

// 统一的 LLM 错误码，用于对齐 HTTP 状态与可重试性。
type ErrorCode string

const (
	ErrInvalidRequest   ErrorCode = "LLM_INVALID_REQUEST"   // 参数/格式错误
	ErrUnauthorized     ErrorCode = "LLM_UNAUTHORIZED"      // 未授权或密钥失效
	ErrForbidden        ErrorCode = "LLM_FORBIDDEN"         // 权限或内容策略拒绝
	ErrRateLimited      ErrorCode = "LLM_RATE_LIMITED"      // 上游限流
	ErrQuotaExceeded    ErrorCode = "LLM_QUOTA_EXCEEDED"    // 额度/配额用尽
	ErrModelOverloaded  ErrorCode = "LLM_MODEL_OVERLOADED"  // 模型过载
	ErrUpstreamTimeout  ErrorCode = "LLM_UPSTREAM_TIMEOUT"  // 上游超时
	ErrUpstreamError    ErrorCode = "LLM_UPSTREAM_ERROR"    // 上游 5xx/网络错误
	ErrEmptyCompletion  ErrorCode = "LLM_EMPTY_COMPLETION"  // 响应中没有任何 choice
	ErrProviderDisabled ErrorCode = "LLM_PROVIDER_DISABLED" // 未配置凭据
)

// Error 是 Provider 返回的结构化错误
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
}

func (e *Error) Error() string { return e.Message }

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
}

type ChatRequest struct {
	TraceID     string            `json:"trace_id,omitempty"`
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float32           `json:"temperature"`
	Timeout     time.Duration     `json:"timeout,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

type ChatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Message      Message `json:"message"`
}

type ChatResponse struct {
	ID        string       `json:"id,omitempty"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model"`
	Choices   []ChatChoice `json:"choices"`
	Usage     ChatUsage    `json:"usage,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

// Content 返回第一个 choice 的文本，去掉首尾空白
func (r *ChatResponse) Content() (string, error) {
	if r == nil || len(r.Choices) == 0 {
		return "", &Error{Code: ErrEmptyCompletion, Message: "completion returned no choices", Provider: providerOf(r)}
	}
	return strings.TrimSpace(r.Choices[0].Message.Content), nil
}

func providerOf(r *ChatResponse) string {
	if r == nil {
		return ""
	}
	return r.Provider
}

// HealthStatus 表示 Provider 健康检查结果。
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// Provider 定义了统一的 LLM 适配接口。评估器只需要同步补全能力。
type Provider interface {
	// Completion 发起同步聊天请求，返回完整响应
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// HealthCheck 执行轻量级健康检查，返回延迟与可用性信息。
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}
