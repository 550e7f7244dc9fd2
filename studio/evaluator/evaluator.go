package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/llm/tokenizer"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/store"
	"github.com/D10S0VSkY-OSS/kiboserve/types"
	"go.uber.org/zap"
)

// Store is the persistence used by the evaluator. *store.Store implements it.
type Store interface {
	GetTrace(ctx context.Context, traceID string) (*studio.Trace, error)
	ListSpans(ctx context.Context, traceID string) ([]studio.Span, error)
	SaveEval(ctx context.Context, r *studio.EvalResult) error
	GetEval(ctx context.Context, evalID string) (*studio.EvalResult, error)
	ListEvals(ctx context.Context, f store.EvalFilter) ([]studio.EvalResult, error)
}

// Recorder receives evaluation metrics. *metrics.Collector implements it.
type Recorder interface {
	RecordEvaluation(method, status string)
}

// Scoring methods, as recorded in details and metrics labels.
const (
	MethodJudge     = "llm_judge"
	MethodHeuristic = "heuristic"
)

// Evaluator runs evaluations against stored traces.
type Evaluator struct {
	store    Store
	judge    Judge
	counter  tokenizer.Counter
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithJudge enables judge scoring. A nil judge keeps heuristic scoring.
func WithJudge(j Judge) Option {
	return func(e *Evaluator) { e.judge = j }
}

// WithTokenCounter adds the llm_tokens_estimated statistic.
func WithTokenCounter(c tokenizer.Counter) Option {
	return func(e *Evaluator) { e.counter = c }
}

// WithRecorder reports evaluation outcomes.
func WithRecorder(r Recorder) Option {
	return func(e *Evaluator) { e.recorder = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an Evaluator.
func New(st Store, logger *zap.Logger, opts ...Option) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Evaluator{
		store:  st,
		logger: logger.With(zap.String("component", "evaluator")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// JudgeEnabled reports whether judge scoring is configured.
func (e *Evaluator) JudgeEnabled() bool { return e.judge != nil }

// ParseMetrics validates metric names. An empty list selects every metric.
func ParseMetrics(names []string) ([]studio.EvalMetric, error) {
	if len(names) == 0 {
		return studio.AllMetrics(), nil
	}
	out := make([]studio.EvalMetric, 0, len(names))
	for _, n := range names {
		m, ok := studio.ParseEvalMetric(n)
		if !ok {
			return nil, types.InvalidRequest(fmt.Sprintf("unknown metric %q", n))
		}
		out = append(out, m)
	}
	return out, nil
}

// RunEvaluation scores one trace and persists the result. Scoring failures
// are stored on the result with status failed; the returned error is only
// set when the result itself cannot be persisted.
func (e *Evaluator) RunEvaluation(ctx context.Context, traceID string, metrics []studio.EvalMetric) (*studio.EvalResult, error) {
	if len(metrics) == 0 {
		metrics = studio.AllMetrics()
	}
	res := &studio.EvalResult{
		EvalID:    studio.NewID(),
		TraceID:   traceID,
		Status:    studio.EvalRunning,
		Metrics:   map[string]float64{},
		Details:   map[string]any{"requested_metrics": metrics},
		CreatedAt: studio.Normalize(e.now()),
	}

	trace, err := e.store.GetTrace(ctx, traceID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("evaluate trace %s: %w", traceID, err)
		}
		return e.finish(ctx, res, "", errors.New("Trace "+traceID+" not found"))
	}

	res.AgentID = trace.AgentID
	if err := e.store.SaveEval(ctx, res); err != nil {
		return nil, fmt.Errorf("evaluate trace %s: %w", traceID, err)
	}

	spans, err := e.store.ListSpans(ctx, traceID)
	if err != nil {
		return e.finish(ctx, res, "", err)
	}

	stats := spanStats(spans, e.counter)
	question, answer := extractQA(spans)

	method := MethodHeuristic
	var scores map[string]float64
	if e.judge != nil && question != "" && answer != "" {
		method = MethodJudge
		scores, err = e.judge.Score(ctx, question, answer, metrics)
	} else {
		scores = heuristicScores(spans, metrics)
	}

	res.Details["method"] = method
	if err != nil {
		res.Metrics = stats
		return e.finish(ctx, res, method, err)
	}
	for k, v := range stats {
		scores[k] = v
	}
	res.Metrics = scores
	return e.finish(ctx, res, method, nil)
}

// finish stamps completion, persists the result and records the outcome.
func (e *Evaluator) finish(ctx context.Context, res *studio.EvalResult, method string, evalErr error) (*studio.EvalResult, error) {
	res.CompletedAt = studio.Ptr(studio.Normalize(e.now()))
	res.Status = studio.EvalCompleted
	if evalErr != nil {
		res.Status = studio.EvalFailed
		res.Error = studio.Ptr(evalErr.Error())
		e.logger.Warn("evaluation failed",
			zap.String("eval_id", res.EvalID),
			zap.String("trace_id", res.TraceID),
			zap.Error(evalErr))
	}

	// The result must be stored even if the request was cancelled mid-run.
	if err := e.store.SaveEval(context.WithoutCancel(ctx), res); err != nil {
		return nil, fmt.Errorf("save evaluation %s: %w", res.EvalID, err)
	}
	if e.recorder != nil {
		if method == "" {
			method = "none"
		}
		e.recorder.RecordEvaluation(method, string(res.Status))
	}
	e.logger.Debug("evaluation finished",
		zap.String("eval_id", res.EvalID),
		zap.String("trace_id", res.TraceID),
		zap.String("status", string(res.Status)))
	return res, nil
}

// GetResult returns one stored evaluation.
func (e *Evaluator) GetResult(ctx context.Context, evalID string) (*studio.EvalResult, error) {
	r, err := e.store.GetEval(ctx, evalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, types.NotFound("Evaluation not found").WithCause(err)
	}
	return r, err
}

// ListResults returns stored evaluations, newest first.
func (e *Evaluator) ListResults(ctx context.Context, traceID string, limit int) ([]studio.EvalResult, error) {
	return e.store.ListEvals(ctx, store.EvalFilter{TraceID: traceID, Limit: limit})
}
