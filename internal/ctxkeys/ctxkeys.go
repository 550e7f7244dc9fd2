// Package ctxkeys 定义请求级 context 值的键与存取函数。
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	traceIDKey   contextKey = "trace_id"
	agentIDKey   contextKey = "agent_id"
	principalKey contextKey = "principal"
)

func withString(ctx context.Context, key contextKey, v string) context.Context {
	return context.WithValue(ctx, key, v)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRequestID 设置请求 ID（X-Request-ID）
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestID 获取请求 ID
func RequestID(ctx context.Context) (string, bool) {
	return stringValue(ctx, requestIDKey)
}

// WithTraceID 设置当前 studio trace ID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return withString(ctx, traceIDKey, traceID)
}

// TraceID 获取当前 studio trace ID
func TraceID(ctx context.Context) (string, bool) {
	return stringValue(ctx, traceIDKey)
}

// WithAgentID 设置调用方 agent ID
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return withString(ctx, agentIDKey, agentID)
}

// AgentID 获取调用方 agent ID
func AgentID(ctx context.Context) (string, bool) {
	return stringValue(ctx, agentIDKey)
}

// WithPrincipal 设置认证主体（API Key 指纹或 JWT subject）
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return withString(ctx, principalKey, principal)
}

// Principal 获取认证主体
func Principal(ctx context.Context) (string, bool) {
	return stringValue(ctx, principalKey)
}
