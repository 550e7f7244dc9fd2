package collector

import (
	"encoding/json"
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/studio"
)

// Reasons reported to the Recorder for skipped spans.
const (
	ReasonMalformed        = "malformed"
	ReasonInvalidTimestamp = "invalid_timestamp"
)

// spanPayload is the wire form of one reported span.
type spanPayload struct {
	SpanID       string             `json:"span_id"`
	ParentSpanID *string            `json:"parent_span_id"`
	Name         string             `json:"name"`
	Kind         string             `json:"kind"`
	StartTime    string             `json:"start_time"`
	EndTime      *string            `json:"end_time"`
	DurationMs   *float64           `json:"duration_ms"`
	Status       string             `json:"status"`
	Attributes   map[string]any     `json:"attributes"`
	Events       []studio.SpanEvent `json:"events"`
	InputData    any                `json:"input_data"`
	OutputData   any                `json:"output_data"`
	Error        *string            `json:"error"`
}

// decodeSpan turns a raw span into an entity owned by the batch's trace and
// agent. Unknown kinds degrade to custom, a missing span id is generated and
// a missing start time becomes now.
func decodeSpan(raw json.RawMessage, b Batch, now time.Time) (*studio.Span, string, error) {
	var p spanPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ReasonMalformed, err
	}
	if p.SpanID == "" {
		p.SpanID = studio.NewID()
	}

	start := now
	if p.StartTime != "" {
		t, err := studio.ParseTimestamp(p.StartTime)
		if err != nil {
			return nil, ReasonInvalidTimestamp, err
		}
		start = t
	}
	var end *time.Time
	if p.EndTime != nil && *p.EndTime != "" {
		t, err := studio.ParseTimestamp(*p.EndTime)
		if err != nil {
			return nil, ReasonInvalidTimestamp, err
		}
		end = &t
	}

	name := p.Name
	if name == "" {
		name = "unknown"
	}
	status := p.Status
	if status == "" {
		status = studio.StatusOK
	}
	parent := p.ParentSpanID
	if parent != nil && *parent == "" {
		parent = nil
	}
	if p.Attributes == nil {
		p.Attributes = map[string]any{}
	}
	if p.Events == nil {
		p.Events = []studio.SpanEvent{}
	}

	return &studio.Span{
		SpanID:       p.SpanID,
		TraceID:      b.TraceID,
		ParentSpanID: parent,
		Name:         name,
		Kind:         studio.ParseSpanKind(p.Kind),
		StartTime:    start,
		EndTime:      end,
		DurationMs:   p.DurationMs,
		Status:       status,
		Attributes:   p.Attributes,
		Events:       p.Events,
		InputData:    p.InputData,
		OutputData:   p.OutputData,
		Error:        p.Error,
		AgentID:      b.AgentID,
	}, "", nil
}
