package studio

// SpanKind 标识 span 在一次 Agent 调用中的角色
type SpanKind string

const (
	SpanKindInvocation SpanKind = "invocation"
	SpanKindAgentRun   SpanKind = "agent_run"
	SpanKindLLMCall    SpanKind = "llm_call"
	SpanKindToolCall   SpanKind = "tool_call"
	SpanKindRetrieval  SpanKind = "retrieval"
	SpanKindCustom     SpanKind = "custom"
)

// Valid reports whether k is a known kind.
func (k SpanKind) Valid() bool {
	switch k {
	case SpanKindInvocation, SpanKindAgentRun, SpanKindLLMCall,
		SpanKindToolCall, SpanKindRetrieval, SpanKindCustom:
		return true
	}
	return false
}

// ParseSpanKind maps unknown values to SpanKindCustom.
func ParseSpanKind(s string) SpanKind {
	k := SpanKind(s)
	if k.Valid() {
		return k
	}
	return SpanKindCustom
}

// Span and trace status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// AgentStatus Agent 健康状态
type AgentStatus string

const (
	AgentHealthy     AgentStatus = "healthy"
	AgentDegraded    AgentStatus = "degraded"
	AgentBusy        AgentStatus = "busy"
	AgentUnreachable AgentStatus = "unreachable"
)

// ParseAgentStatus returns the status named by s and whether it is recognized.
func ParseAgentStatus(s string) (AgentStatus, bool) {
	switch st := AgentStatus(s); st {
	case AgentHealthy, AgentDegraded, AgentBusy, AgentUnreachable:
		return st, true
	}
	return "", false
}

// EvalStatus 评估任务状态
type EvalStatus string

const (
	EvalPending   EvalStatus = "pending"
	EvalRunning   EvalStatus = "running"
	EvalCompleted EvalStatus = "completed"
	EvalFailed    EvalStatus = "failed"
)

// EvalMetric 评估指标
type EvalMetric string

const (
	MetricAnswerRelevancy EvalMetric = "answer_relevancy"
	MetricCoherence       EvalMetric = "coherence"
	MetricCompleteness    EvalMetric = "completeness"
	MetricHarmfulness     EvalMetric = "harmfulness"
)

// AllMetrics returns every metric in canonical order.
func AllMetrics() []EvalMetric {
	return []EvalMetric{MetricAnswerRelevancy, MetricCoherence, MetricCompleteness, MetricHarmfulness}
}

// ParseEvalMetric returns the metric named by s and whether it is recognized.
func ParseEvalMetric(s string) (EvalMetric, bool) {
	for _, m := range AllMetrics() {
		if string(m) == s {
			return m, true
		}
	}
	return "", false
}

// GlobalAgentID is the pseudo agent id holding fleet-wide flags and parameters.
const GlobalAgentID = "_global"

// Eval case status values besides the EvalStatus ones.
const (
	CaseNoTrace = "no_trace"
	CaseSkipped = "skipped"
)

// Session message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleError     = "error"
)
