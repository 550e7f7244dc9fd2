// Package fixtures 提供 studio 实体的测试样例数据。
package fixtures

import (
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/studio"
)

// BaseTime 固定的测试基准时间
var BaseTime = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

// Trace 返回一个已结束的 trace
func Trace(id, agentID string) *studio.Trace {
	end := BaseTime.Add(1500 * time.Millisecond)
	return &studio.Trace{
		TraceID:    id,
		AgentID:    agentID,
		SessionID:  "sess-1",
		RequestID:  "req-1",
		StartTime:  BaseTime,
		EndTime:    &end,
		DurationMs: studio.Ptr(1500.0),
		Status:     studio.StatusOK,
		Metadata:   map[string]any{"env": "test"},
	}
}

// Span 返回 trace 下的一个 span，offset 决定开始时间
func Span(id, traceID string, kind studio.SpanKind, offset time.Duration) *studio.Span {
	start := BaseTime.Add(offset)
	end := start.Add(100 * time.Millisecond)
	return &studio.Span{
		SpanID:     id,
		TraceID:    traceID,
		Name:       string(kind) + "-" + id,
		Kind:       kind,
		StartTime:  start,
		EndTime:    &end,
		DurationMs: studio.Ptr(100.0),
		Status:     studio.StatusOK,
		Attributes: map[string]any{},
	}
}

// InvocationSpan 返回带输入输出的 invocation span
func InvocationSpan(id, traceID string, input, output map[string]any) *studio.Span {
	s := Span(id, traceID, studio.SpanKindInvocation, 0)
	if input != nil {
		s.InputData = input
	}
	if output != nil {
		s.OutputData = output
	}
	return s
}

// Agent 返回一个健康的 agent 注册信息
func Agent(id string) *studio.AgentRegistration {
	hb := BaseTime
	return &studio.AgentRegistration{
		AgentID:            id,
		Name:               id,
		Protocol:           studio.DefaultProtocol,
		Endpoint:           "http://localhost:8080",
		Capabilities:       []string{"chat"},
		Version:            "1.0.0",
		Metadata:           map[string]any{},
		Status:             studio.AgentHealthy,
		RegisteredAt:       BaseTime,
		LastHeartbeat:      &hb,
		HeartbeatIntervalS: studio.DefaultHeartbeatInterval,
	}
}
