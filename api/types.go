package api

import (
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/studio"
)

// =============================================================================
// 链路追踪类型
// =============================================================================

// TraceList 是 trace 列表响应。
// @Description trace 列表（按开始时间倒序）
type TraceList struct {
	Traces []studio.Trace `json:"traces"`
	// 分页参数
	Limit  int `json:"limit" example:"50"`
	Offset int `json:"offset" example:"0"`
}

// TraceDetail 是单个 trace 及其 span。
// @Description trace 详情
type TraceDetail struct {
	Trace *studio.Trace `json:"trace"`
	Spans []studio.Span `json:"spans"`
}

// SpanList 是 trace 下的 span 列表。
type SpanList struct {
	TraceID string        `json:"trace_id" example:"9f1c..."`
	Spans   []studio.Span `json:"spans"`
}

// LiveEnvelope 是 websocket 实时推送的消息外层结构。
// @Description 实时 trace 事件
type LiveEnvelope struct {
	// 事件类型（hello、spans_ingested）
	Type string `json:"type" example:"spans_ingested"`
	// 事件内容
	Data any `json:"data,omitempty"`
	// 服务端时间
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// 提示词类型
// =============================================================================

// CreatePromptRequest 创建提示词模板（同时创建激活的 version 1）。
// @Description 创建提示词请求
type CreatePromptRequest struct {
	Name        string         `json:"name" example:"greeter" binding:"required"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Content     string         `json:"content" example:"Hello {{name}}"`
	ModelConfig map[string]any `json:"model_config,omitempty"`
	Variables   []string       `json:"variables,omitempty"`
}

// UpdatePromptRequest 更新模板元数据，未提供的字段保持不变。
type UpdatePromptRequest struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// CreateVersionRequest 为模板追加新版本。
type CreateVersionRequest struct {
	Content     string         `json:"content"`
	ModelConfig map[string]any `json:"model_config,omitempty"`
	Variables   []string       `json:"variables,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	// 是否立即激活
	Activate bool `json:"activate,omitempty"`
}

// PromptList 提示词列表。
type PromptList struct {
	Prompts []studio.PromptTemplate `json:"prompts"`
}

// PromptDetail 模板及其全部版本。
type PromptDetail struct {
	Prompt   *studio.PromptTemplate `json:"prompt"`
	Versions []studio.PromptVersion `json:"versions"`
}

// VersionList 版本列表（新版本在前）。
type VersionList struct {
	Versions []studio.PromptVersion `json:"versions"`
}

// ActivateResponse 版本激活结果。
type ActivateResponse struct {
	Status  string `json:"status" example:"activated"`
	Version int    `json:"version" example:"2"`
}

// ActivePrompt 按名称获取的激活版本内容。
// @Description 激活版本内容
type ActivePrompt struct {
	PromptID    string         `json:"prompt_id"`
	Name        string         `json:"name" example:"greeter"`
	Content     string         `json:"content"`
	ModelConfig map[string]any `json:"model_config"`
	Variables   []string       `json:"variables"`
	Version     int            `json:"version" example:"3"`
}

// =============================================================================
// 评估类型
// =============================================================================

// RunEvalRequest 对单个 trace 运行评估。
// @Description 评估请求
type RunEvalRequest struct {
	TraceID string `json:"trace_id" example:"9f1c..." binding:"required"`
	// 为空时评估全部指标
	Metrics []string `json:"metrics,omitempty" example:"answer_relevancy,coherence"`
}

// EvalList 评估结果列表。
type EvalList struct {
	Results []studio.EvalResult `json:"results"`
}

// =============================================================================
// 服务发现类型
// =============================================================================

// HeartbeatResponse 心跳处理后的 Agent 状态。
type HeartbeatResponse struct {
	AgentID string `json:"agent_id" example:"weather-agent"`
	Status  string `json:"status" example:"healthy"`
}

// AgentList Agent 列表。
type AgentList struct {
	Agents []studio.AgentRegistration `json:"agents"`
}

// =============================================================================
// Feature Flag / 参数类型
// =============================================================================

// SetFlagRequest 创建或更新 flag。
// @Description flag 写入请求
type SetFlagRequest struct {
	Name        string `json:"name" example:"use_rag" binding:"required"`
	Enabled     bool   `json:"enabled" example:"true"`
	Value       any    `json:"value,omitempty"`
	Description string `json:"description,omitempty"`
}

// SetParamRequest 创建或更新参数。
type SetParamRequest struct {
	Name        string `json:"name" example:"temperature" binding:"required"`
	Value       any    `json:"value"`
	Description string `json:"description,omitempty"`
}

// FlagList agent 可见的 flag。
type FlagList struct {
	AgentID string               `json:"agent_id"`
	Flags   []studio.FeatureFlag `json:"flags"`
}

// ParamList agent 可见的参数。
type ParamList struct {
	AgentID string             `json:"agent_id"`
	Params  []studio.Parameter `json:"params"`
}

// =============================================================================
// 会话类型
// =============================================================================

// CreateSessionRequest 创建会话。
type CreateSessionRequest struct {
	AgentID string `json:"agent_id" example:"weather-agent"`
	// 默认 user
	UserID string `json:"user_id,omitempty"`
}

// SessionList 会话列表。
type SessionList struct {
	Sessions []studio.Session `json:"sessions"`
}

// SessionDetail 会话及其消息。
type SessionDetail struct {
	Session  *studio.Session         `json:"session"`
	Messages []studio.SessionMessage `json:"messages"`
}

// MessageList 会话消息列表。
type MessageList struct {
	Messages []studio.SessionMessage `json:"messages"`
}

// SendMessageRequest 向会话绑定的 Agent 发送消息。
type SendMessageRequest struct {
	Content string `json:"content" example:"What's the weather in Madrid?" binding:"required"`
}

// =============================================================================
// Eval Set 类型
// =============================================================================

// CreateEvalSetRequest 创建 eval set。
type CreateEvalSetRequest struct {
	Name    string `json:"name" example:"regression" binding:"required"`
	AgentID string `json:"agent_id,omitempty"`
}

// AddCaseRequest 将会话加入 eval set。
type AddCaseRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// EvalSetList eval set 列表。
type EvalSetList struct {
	EvalSets []studio.EvalSet `json:"eval_sets"`
}

// CaseList eval case 列表（运行结果也使用该结构）。
type CaseList struct {
	Cases []studio.EvalCase `json:"cases"`
}

// =============================================================================
// 通用类型
// =============================================================================

// StatusResponse 无数据的操作结果。
type StatusResponse struct {
	Status string `json:"status" example:"deleted"`
}
