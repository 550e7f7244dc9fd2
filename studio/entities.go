package studio

import "time"

// =============================================================================
// Observability
// =============================================================================

// Trace groups the spans of one agent request.
type Trace struct {
	TraceID    string         `gorm:"column:trace_id;primaryKey;size:64" json:"trace_id"`
	AgentID    string         `gorm:"column:agent_id;size:128;index:idx_traces_agent" json:"agent_id,omitempty"`
	SessionID  string         `gorm:"column:session_id;size:128" json:"session_id,omitempty"`
	RequestID  string         `gorm:"column:request_id;size:128" json:"request_id,omitempty"`
	StartTime  time.Time      `gorm:"column:start_time;not null;index:idx_traces_start" json:"start_time"`
	EndTime    *time.Time     `gorm:"column:end_time" json:"end_time,omitempty"`
	DurationMs *float64       `gorm:"column:duration_ms" json:"duration_ms,omitempty"`
	Status     string         `gorm:"column:status;size:16;not null" json:"status"`
	Metadata   map[string]any `gorm:"column:metadata;serializer:json;type:text" json:"metadata"`
	SpanCount  int            `gorm:"column:span_count;not null" json:"span_count"`
}

// TableName implements gorm's tabler.
func (Trace) TableName() string { return "traces" }

// SpanEvent is a timestamped annotation on a span.
type SpanEvent struct {
	Name       string         `json:"name"`
	Timestamp  time.Time      `json:"timestamp"`
	Attributes map[string]any `json:"attributes"`
}

// Span is one timed unit of work inside a trace.
type Span struct {
	SpanID       string         `gorm:"column:span_id;primaryKey;size:64" json:"span_id"`
	TraceID      string         `gorm:"column:trace_id;size:64;not null;index:idx_spans_trace" json:"trace_id"`
	ParentSpanID *string        `gorm:"column:parent_span_id;size:64" json:"parent_span_id,omitempty"`
	Name         string         `gorm:"column:name;size:255" json:"name"`
	Kind         SpanKind       `gorm:"column:kind;size:32;not null" json:"kind"`
	StartTime    time.Time      `gorm:"column:start_time;not null" json:"start_time"`
	EndTime      *time.Time     `gorm:"column:end_time" json:"end_time,omitempty"`
	DurationMs   *float64       `gorm:"column:duration_ms" json:"duration_ms,omitempty"`
	Status       string         `gorm:"column:status;size:16;not null" json:"status"`
	Attributes   map[string]any `gorm:"column:attributes;serializer:json;type:text" json:"attributes"`
	Events       []SpanEvent    `gorm:"column:events;serializer:json;type:text" json:"events"`
	InputData    any            `gorm:"column:input_data;serializer:json;type:text" json:"input_data,omitempty"`
	OutputData   any            `gorm:"column:output_data;serializer:json;type:text" json:"output_data,omitempty"`
	Error        *string        `gorm:"column:error;type:text" json:"error,omitempty"`
	AgentID      string         `gorm:"column:agent_id;size:128" json:"agent_id,omitempty"`
}

// TableName implements gorm's tabler.
func (Span) TableName() string { return "spans" }

// =============================================================================
// Prompts
// =============================================================================

// PromptTemplate is a named prompt with versioned content.
type PromptTemplate struct {
	PromptID      string    `gorm:"column:prompt_id;primaryKey;size:64" json:"prompt_id"`
	Name          string    `gorm:"column:name;size:255;not null;uniqueIndex:idx_prompts_name" json:"name"`
	Description   string    `gorm:"column:description;type:text" json:"description"`
	Tags          []string  `gorm:"column:tags;serializer:json;type:text" json:"tags"`
	ActiveVersion *int      `gorm:"column:active_version" json:"active_version"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at"`
}

// TableName implements gorm's tabler.
func (PromptTemplate) TableName() string { return "prompts" }

// PromptVersion is an immutable revision of a prompt's content.
type PromptVersion struct {
	VersionID   string         `gorm:"column:version_id;primaryKey;size:64" json:"version_id"`
	PromptID    string         `gorm:"column:prompt_id;size:64;not null;uniqueIndex:idx_prompt_versions_prompt_version" json:"prompt_id"`
	Version     int            `gorm:"column:version;not null;uniqueIndex:idx_prompt_versions_prompt_version" json:"version"`
	Content     string         `gorm:"column:content;type:text;not null" json:"content"`
	ModelConfig map[string]any `gorm:"column:model_config;serializer:json;type:text" json:"model_config"`
	Variables   []string       `gorm:"column:variables;serializer:json;type:text" json:"variables"`
	Metadata    map[string]any `gorm:"column:metadata;serializer:json;type:text" json:"metadata"`
	IsActive    bool           `gorm:"column:is_active;not null" json:"is_active"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
}

// TableName implements gorm's tabler.
func (PromptVersion) TableName() string { return "prompt_versions" }

// =============================================================================
// Evaluation
// =============================================================================

// EvalResult holds the metric scores computed for one trace.
type EvalResult struct {
	EvalID      string             `gorm:"column:eval_id;primaryKey;size:64" json:"eval_id"`
	TraceID     string             `gorm:"column:trace_id;size:64;not null;index:idx_evaluations_trace" json:"trace_id"`
	AgentID     string             `gorm:"column:agent_id;size:128" json:"agent_id,omitempty"`
	Metrics     map[string]float64 `gorm:"column:metrics;serializer:json;type:text" json:"metrics"`
	Status      EvalStatus         `gorm:"column:status;size:16;not null" json:"status"`
	Error       *string            `gorm:"column:error;type:text" json:"error,omitempty"`
	Details     map[string]any     `gorm:"column:details;serializer:json;type:text" json:"details"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
	CompletedAt *time.Time         `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

// TableName implements gorm's tabler.
func (EvalResult) TableName() string { return "evaluations" }

// =============================================================================
// Discovery
// =============================================================================

// AgentRegistration is an agent's last known registry entry.
type AgentRegistration struct {
	AgentID            string         `gorm:"column:agent_id;primaryKey;size:128" json:"agent_id"`
	Name               string         `gorm:"column:name;size:255" json:"name"`
	Protocol           string         `gorm:"column:protocol;size:32" json:"protocol"`
	Endpoint           string         `gorm:"column:endpoint;size:512" json:"endpoint"`
	Capabilities       []string       `gorm:"column:capabilities;serializer:json;type:text" json:"capabilities"`
	Version            string         `gorm:"column:version;size:64" json:"version"`
	Metadata           map[string]any `gorm:"column:metadata;serializer:json;type:text" json:"metadata"`
	Status             AgentStatus    `gorm:"column:status;size:16;not null;index:idx_agents_status" json:"status"`
	RegisteredAt       time.Time      `gorm:"column:registered_at" json:"registered_at"`
	LastHeartbeat      *time.Time     `gorm:"column:last_heartbeat" json:"last_heartbeat,omitempty"`
	HeartbeatIntervalS int            `gorm:"column:heartbeat_interval_s" json:"heartbeat_interval_s"`
	UptimeSeconds      float64        `gorm:"column:uptime_seconds" json:"uptime_seconds"`
	ActiveTasks        int            `gorm:"column:active_tasks" json:"active_tasks"`
	ErrorCountLast5m   int            `gorm:"column:error_count_last_5m" json:"error_count_last_5m"`
	MemoryMB           float64        `gorm:"column:memory_mb" json:"memory_mb"`
}

// TableName implements gorm's tabler.
func (AgentRegistration) TableName() string { return "agents" }

// Registration defaults.
const (
	DefaultProtocol          = "http"
	DefaultAgentVersion      = "0.0.0"
	DefaultHeartbeatInterval = 15
)

// =============================================================================
// Flags and parameters
// =============================================================================

// FeatureFlag is a named switch scoped to an agent or to GlobalAgentID.
type FeatureFlag struct {
	FlagID      string    `gorm:"column:flag_id;primaryKey;size:64" json:"flag_id"`
	AgentID     string    `gorm:"column:agent_id;size:128;not null;uniqueIndex:idx_feature_flags_agent_name" json:"agent_id"`
	Name        string    `gorm:"column:name;size:255;not null;uniqueIndex:idx_feature_flags_agent_name" json:"name"`
	Enabled     bool      `gorm:"column:enabled;not null" json:"enabled"`
	Value       any       `gorm:"column:value;serializer:json;type:text" json:"value"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at"`
}

// TableName implements gorm's tabler.
func (FeatureFlag) TableName() string { return "feature_flags" }

// Parameter is a named value scoped to an agent or to GlobalAgentID.
type Parameter struct {
	ParamID     string    `gorm:"column:param_id;primaryKey;size:64" json:"param_id"`
	AgentID     string    `gorm:"column:agent_id;size:128;not null;uniqueIndex:idx_parameters_agent_name" json:"agent_id"`
	Name        string    `gorm:"column:name;size:255;not null;uniqueIndex:idx_parameters_agent_name" json:"name"`
	Value       any       `gorm:"column:value;serializer:json;type:text" json:"value"`
	Description string    `gorm:"column:description;type:text" json:"description"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at"`
}

// TableName implements gorm's tabler.
func (Parameter) TableName() string { return "parameters" }

// =============================================================================
// Sessions and eval sets
// =============================================================================

// Session is a chat conversation between a user and an agent.
type Session struct {
	SessionID string    `gorm:"column:session_id;primaryKey;size:64" json:"session_id"`
	AgentID   string    `gorm:"column:agent_id;size:128;index:idx_sessions_agent" json:"agent_id"`
	UserID    string    `gorm:"column:user_id;size:128" json:"user_id"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime:false" json:"updated_at"`
}

// TableName implements gorm's tabler.
func (Session) TableName() string { return "sessions" }

// DefaultUserID is used when a session is created without a user.
const DefaultUserID = "user"

// SessionMessage is one turn of a session.
type SessionMessage struct {
	MessageID string    `gorm:"column:message_id;primaryKey;size:64" json:"message_id"`
	SessionID string    `gorm:"column:session_id;size:64;not null;index:idx_session_messages_session" json:"session_id"`
	Role      string    `gorm:"column:role;size:16;not null" json:"role"`
	Content   string    `gorm:"column:content;type:text" json:"content"`
	TraceID   *string   `gorm:"column:trace_id;size:64" json:"trace_id,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
}

// TableName implements gorm's tabler.
func (SessionMessage) TableName() string { return "session_messages" }

// EvalSet is a named collection of sessions evaluated together.
type EvalSet struct {
	EvalSetID string    `gorm:"column:eval_set_id;primaryKey;size:64" json:"eval_set_id"`
	Name      string    `gorm:"column:name;size:255;not null" json:"name"`
	AgentID   string    `gorm:"column:agent_id;size:128" json:"agent_id"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
}

// TableName implements gorm's tabler.
func (EvalSet) TableName() string { return "eval_sets" }

// EvalCase references one session inside an eval set.
type EvalCase struct {
	CaseID    string         `gorm:"column:case_id;primaryKey;size:64" json:"case_id"`
	EvalSetID string         `gorm:"column:eval_set_id;size:64;not null;index:idx_eval_cases_set" json:"eval_set_id"`
	SessionID string         `gorm:"column:session_id;size:64;not null" json:"session_id"`
	Status    string         `gorm:"column:status;size:16;not null" json:"status"`
	Result    map[string]any `gorm:"column:result;serializer:json;type:text" json:"result,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime:false" json:"created_at"`
}

// TableName implements gorm's tabler.
func (EvalCase) TableName() string { return "eval_cases" }

// Models lists every persisted entity in dependency order.
func Models() []any {
	return []any{
		&Trace{}, &Span{},
		&PromptTemplate{}, &PromptVersion{},
		&EvalResult{},
		&AgentRegistration{},
		&FeatureFlag{}, &Parameter{},
		&Session{}, &SessionMessage{},
		&EvalSet{}, &EvalCase{},
	}
}
