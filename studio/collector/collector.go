package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/tracer"
	"github.com/D10S0VSkY-OSS/kiboserve/types"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrBatchRequired is returned when a batch has no trace id or no spans.
var ErrBatchRequired = types.InvalidRequest("trace_id and spans are required")

// Store is the persistence used by the collector. *store.Store implements it.
type Store interface {
	CreateTraceIfMissing(ctx context.Context, t *studio.Trace) (bool, error)
	SaveSpan(ctx context.Context, s *studio.Span) error
	AdvanceTraceEnd(ctx context.Context, traceID string, end time.Time) (bool, error)
	GetTrace(ctx context.Context, traceID string) (*studio.Trace, error)
}

// Recorder receives ingestion metrics. *metrics.Collector implements it.
type Recorder interface {
	RecordSpansIngested(source string, n int)
	RecordSpanRejected(reason string)
}

// Batch is a set of spans an agent reports for one trace. Spans stay raw so
// a malformed entry can be skipped without rejecting its siblings.
type Batch struct {
	TraceID   string            `json:"trace_id"`
	AgentID   string            `json:"agent_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Spans     []json.RawMessage `json:"spans"`
}

// Result summarizes an ingested batch.
type Result struct {
	TraceID  string `json:"trace_id"`
	Accepted int    `json:"accepted"`
	Total    int    `json:"total"`
}

// Event is published after every ingested batch.
type Event struct {
	Type      string    `json:"type"`
	TraceID   string    `json:"trace_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Accepted  int       `json:"accepted"`
	Total     int       `json:"total"`
	NewTrace  bool      `json:"new_trace"`
	Timestamp time.Time `json:"timestamp"`
}

// EventTypeSpansIngested is the Event type emitted by IngestBatch.
const EventTypeSpansIngested = "spans_ingested"

// Publisher receives ingest events, e.g. the live trace feed.
type Publisher interface {
	Publish(ev Event)
}

// Collector persists span batches reported by remote agents.
type Collector struct {
	store     Store
	recorder  Recorder
	publisher Publisher
	mirror    trace.Tracer
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithRecorder reports accepted and rejected spans.
func WithRecorder(r Recorder) Option {
	return func(c *Collector) { c.recorder = r }
}

// WithPublisher publishes an Event per ingested batch.
func WithPublisher(p Publisher) Option {
	return func(c *Collector) { c.publisher = p }
}

// WithMirror copies accepted spans into OpenTelemetry.
func WithMirror(otelTracer trace.Tracer) Option {
	return func(c *Collector) { c.mirror = otelTracer }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Collector.
func New(store Store, logger *zap.Logger, opts ...Option) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		store:  store,
		logger: logger.With(zap.String("component", "span_collector")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IngestBatch stores the spans of b. A missing trace row is synthesized from
// the batch; an existing trace only has its end_time advanced. Malformed spans
// are logged and skipped. The returned Result is meaningful even on error.
func (c *Collector) IngestBatch(ctx context.Context, b Batch) (Result, error) {
	res := Result{TraceID: b.TraceID, Total: len(b.Spans)}
	if b.TraceID == "" || len(b.Spans) == 0 {
		return res, ErrBatchRequired
	}

	now := studio.Normalize(c.now())
	spans := make([]*studio.Span, 0, len(b.Spans))
	for i, raw := range b.Spans {
		sp, reason, err := decodeSpan(raw, b, now)
		if err != nil {
			c.reject(reason)
			c.logger.Warn("skipping malformed span",
				zap.String("trace_id", b.TraceID),
				zap.Int("index", i),
				zap.String("reason", reason),
				zap.Error(err))
			continue
		}
		spans = append(spans, sp)
	}

	synthesized := synthesizeTrace(b, spans, now)
	created, err := c.store.CreateTraceIfMissing(ctx, synthesized)
	if err != nil {
		return res, fmt.Errorf("ingest batch for %s: %w", b.TraceID, err)
	}

	stored := make([]*studio.Span, 0, len(spans))
	for _, sp := range spans {
		if err := c.store.SaveSpan(ctx, sp); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			c.reject("store_error")
			c.logger.Warn("failed to store span",
				zap.String("trace_id", b.TraceID),
				zap.String("span_id", sp.SpanID),
				zap.Error(err))
			continue
		}
		stored = append(stored, sp)
		res.Accepted++
	}

	if !created {
		if end, ok := latestEnd(spans); ok {
			if _, err := c.store.AdvanceTraceEnd(ctx, b.TraceID, end); err != nil {
				c.logger.Warn("failed to advance trace end_time",
					zap.String("trace_id", b.TraceID),
					zap.Error(err))
			}
		}
	}

	if c.mirror != nil && len(stored) > 0 {
		tracer.Mirror(ctx, c.mirror, c.mirrorTrace(ctx, created, synthesized), stored)
	}
	if c.recorder != nil {
		c.recorder.RecordSpansIngested("collector", res.Accepted)
	}
	c.logger.Debug("span batch ingested",
		zap.String("trace_id", b.TraceID),
		zap.String("agent_id", b.AgentID),
		zap.Bool("new_trace", created),
		zap.Int("accepted", res.Accepted),
		zap.Int("total", res.Total))

	if c.publisher != nil {
		c.publisher.Publish(Event{
			Type:      EventTypeSpansIngested,
			TraceID:   b.TraceID,
			AgentID:   b.AgentID,
			SessionID: b.SessionID,
			Accepted:  res.Accepted,
			Total:     res.Total,
			NewTrace:  created,
			Timestamp: now,
		})
	}
	return res, nil
}

// mirrorTrace returns the trace row the mirrored spans belong to. A batch for
// an existing trace must not relabel it with its own agent or session.
func (c *Collector) mirrorTrace(ctx context.Context, created bool, synthesized *studio.Trace) *studio.Trace {
	if created {
		return synthesized
	}
	t, err := c.store.GetTrace(ctx, synthesized.TraceID)
	if err != nil {
		c.logger.Debug("stored trace unavailable for mirroring",
			zap.String("trace_id", synthesized.TraceID),
			zap.Error(err))
		return &studio.Trace{TraceID: synthesized.TraceID}
	}
	return t
}

func (c *Collector) reject(reason string) {
	if c.recorder != nil {
		c.recorder.RecordSpanRejected(reason)
	}
}

// synthesizeTrace builds the trace row used when none exists yet: earliest
// start, latest end and longest span duration of the batch.
func synthesizeTrace(b Batch, spans []*studio.Span, now time.Time) *studio.Trace {
	t := &studio.Trace{
		TraceID:   b.TraceID,
		AgentID:   b.AgentID,
		SessionID: b.SessionID,
		RequestID: b.RequestID,
		StartTime: now,
		Status:    studio.StatusOK,
		Metadata:  map[string]any{},
	}
	var (
		start   time.Time
		hasTime bool
	)
	for _, sp := range spans {
		if !sp.StartTime.IsZero() && (!hasTime || sp.StartTime.Before(start)) {
			start, hasTime = sp.StartTime, true
		}
		if sp.DurationMs != nil && *sp.DurationMs > 0 && (t.DurationMs == nil || *sp.DurationMs > *t.DurationMs) {
			t.DurationMs = studio.Ptr(*sp.DurationMs)
		}
	}
	if hasTime {
		t.StartTime = start
	}
	if end, ok := latestEnd(spans); ok {
		t.EndTime = studio.Ptr(end)
	}
	return t
}

func latestEnd(spans []*studio.Span) (time.Time, bool) {
	var (
		end time.Time
		ok  bool
	)
	for _, sp := range spans {
		if sp.EndTime != nil && (!ok || sp.EndTime.After(end)) {
			end, ok = *sp.EndTime, true
		}
	}
	return end, ok
}

// IsBatchRequired reports whether err is the missing trace id / spans error.
func IsBatchRequired(err error) bool {
	return errors.Is(err, ErrBatchRequired)
}
