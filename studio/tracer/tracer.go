package tracer

import (
	"context"
	"fmt"
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/internal/ctxkeys"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Sink receives a finished trace together with its closed spans.
type Sink interface {
	Export(ctx context.Context, t *studio.Trace, spans []*studio.Span) error
}

// TraceWriter is the subset of the store used by StoreSink.
type TraceWriter interface {
	SaveTrace(ctx context.Context, t *studio.Trace) error
	SaveSpan(ctx context.Context, s *studio.Span) error
}

// StoreSink persists the trace first and then every span in order.
type StoreSink struct {
	w TraceWriter
}

// NewStoreSink wraps a TraceWriter such as *store.Store.
func NewStoreSink(w TraceWriter) *StoreSink {
	return &StoreSink{w: w}
}

// Export implements Sink. It stops at the first failed write.
func (s *StoreSink) Export(ctx context.Context, t *studio.Trace, spans []*studio.Span) error {
	if err := s.w.SaveTrace(ctx, t); err != nil {
		return err
	}
	for _, sp := range spans {
		if err := s.w.SaveSpan(ctx, sp); err != nil {
			return err
		}
	}
	return nil
}

// Recorder receives tracer metrics. *metrics.Collector implements it.
type Recorder interface {
	RecordTraceClosed(status string)
	RecordSpansIngested(source string, n int)
}

// Tracer opens traces for one agent and hands them to a Sink when closed.
type Tracer struct {
	sink     Sink
	agentID  string
	logger   *zap.Logger
	recorder Recorder
	otel     trace.Tracer
	now      func() time.Time
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithAgentID stamps every trace and span with agentID.
func WithAgentID(agentID string) Option {
	return func(t *Tracer) { t.agentID = agentID }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithRecorder reports closed traces and exported spans.
func WithRecorder(r Recorder) Option {
	return func(t *Tracer) { t.recorder = r }
}

// WithOTel mirrors every closed trace into OpenTelemetry spans.
func WithOTel(otelTracer trace.Tracer) Option {
	return func(t *Tracer) { t.otel = otelTracer }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracer) {
		if now != nil {
			t.now = now
		}
	}
}

// New creates a Tracer. A nil sink keeps traces in memory only.
func New(sink Sink, opts ...Option) *Tracer {
	t := &Tracer{
		sink:   sink,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("component", "tracer"))
	return t
}

// AgentID returns the agent id stamped on traces.
func (t *Tracer) AgentID() string {
	return t.agentID
}

// OpenTrace starts a trace whose root span has kind invocation. Nothing is
// exported until the returned scope is closed. An empty requestID gets a
// generated one.
func (t *Tracer) OpenTrace(name, sessionID, requestID string) *TraceScope {
	if requestID == "" {
		requestID = studio.NewID()
	}
	start := t.now()
	traceID := studio.NewID()

	ts := &TraceScope{
		tracer: t,
		start:  start,
		trace: &studio.Trace{
			TraceID:   traceID,
			AgentID:   t.agentID,
			SessionID: sessionID,
			RequestID: requestID,
			StartTime: studio.Normalize(start),
			Status:    studio.StatusOK,
			Metadata:  map[string]any{},
		},
	}
	ts.root = &studio.Span{
		SpanID:     studio.NewID(),
		TraceID:    traceID,
		Name:       name,
		Kind:       studio.SpanKindInvocation,
		StartTime:  studio.Normalize(start),
		Status:     studio.StatusOK,
		Attributes: map[string]any{},
		Events:     []studio.SpanEvent{},
		AgentID:    t.agentID,
	}
	ts.spans = []*studio.Span{ts.root}
	return ts
}

// Run opens a trace, calls fn with a context carrying the scope and closes
// the trace. An error or panic from fn marks the trace as failed and is
// returned (or re-panicked) unchanged.
func (t *Tracer) Run(ctx context.Context, name, sessionID, requestID string, fn func(ctx context.Context, ts *TraceScope) error) (err error) {
	ts := t.OpenTrace(name, sessionID, requestID)
	ctx = ContextWithTrace(ctx, ts)

	defer func() {
		if r := recover(); r != nil {
			_ = ts.Close(context.WithoutCancel(ctx), fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	runErr := fn(ctx, ts)
	closeErr := ts.Close(context.WithoutCancel(ctx), runErr)
	if runErr != nil {
		return runErr
	}
	return closeErr
}

// =============================================================================
// Context propagation
// =============================================================================

type scopeKey struct{}

// ContextWithTrace returns a context carrying ts and its trace id.
func ContextWithTrace(ctx context.Context, ts *TraceScope) context.Context {
	ctx = ctxkeys.WithTraceID(ctx, ts.TraceID())
	return context.WithValue(ctx, scopeKey{}, ts)
}

// FromContext returns the trace scope stored by ContextWithTrace.
func FromContext(ctx context.Context) (*TraceScope, bool) {
	ts, ok := ctx.Value(scopeKey{}).(*TraceScope)
	return ts, ok && ts != nil
}
