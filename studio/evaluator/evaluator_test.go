package evaluator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/config"
	"github.com/D10S0VSkY-OSS/kiboserve/llm"
	"github.com/D10S0VSkY-OSS/kiboserve/llm/tokenizer"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/collector"
	"github.com/D10S0VSkY-OSS/kiboserve/studio/store"
	"github.com/D10S0VSkY-OSS/kiboserve/testutil"
	"github.com/D10S0VSkY-OSS/kiboserve/testutil/fixtures"
	"github.com/D10S0VSkY-OSS/kiboserve/testutil/mocks"
	"github.com/D10S0VSkY-OSS/kiboserve/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeRecorder struct {
	mu          sync.Mutex
	evaluations []string
	judgeCalls  []bool
	tokens      [2]int
}

func (r *fakeRecorder) RecordEvaluation(method, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluations = append(r.evaluations, method+"/"+status)
}

func (r *fakeRecorder) RecordJudgeCall(_ string, ok bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.judgeCalls = append(r.judgeCalls, ok)
}

func (r *fakeRecorder) RecordJudgeTokens(_ string, prompt, completion int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[0] += prompt
	r.tokens[1] += completion
}

func seedTrace(t *testing.T, st *store.Store, spans ...*studio.Span) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.SaveTrace(ctx, fixtures.Trace("t1", "agent-a")))
	for _, s := range spans {
		require.NoError(t, st.SaveSpan(ctx, s))
	}
}

func TestRunEvaluation_IngestThenHeuristic(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := testutil.TestContext(t)

	c := collector.New(st, nil)
	res, err := c.IngestBatch(ctx, collector.Batch{
		TraceID: "t1",
		Spans: []json.RawMessage{json.RawMessage(
			`{"kind":"invocation","input_data":{"prompt":"hi"},"output_data":{"response":"hello"}}`)},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Accepted)

	rec := &fakeRecorder{}
	ev := New(st, zaptest.NewLogger(t), WithRecorder(rec))
	result, err := ev.RunEvaluation(ctx, "t1", nil)
	require.NoError(t, err)

	assert.Equal(t, studio.EvalCompleted, result.Status)
	assert.Equal(t, 1.0, result.Metrics["answer_relevancy"])
	assert.Equal(t, 1.0, result.Metrics["coherence"])
	assert.Equal(t, 1.0, result.Metrics["completeness"])
	assert.Equal(t, 0.0, result.Metrics["harmfulness"])
	assert.Equal(t, 0.0, result.Metrics[MetricEvalMethod])
	assert.Equal(t, 1.0, result.Metrics[StatTotalSpans])
	assert.Nil(t, result.Error)
	require.NotNil(t, result.CompletedAt)

	stored, err := ev.GetResult(ctx, result.EvalID)
	require.NoError(t, err)
	assert.Equal(t, studio.EvalCompleted, stored.Status)
	assert.Equal(t, result.Metrics, stored.Metrics)
	assert.Equal(t, MethodHeuristic, stored.Details["method"])
	assert.Equal(t, []string{"heuristic/completed"}, rec.evaluations)
}

func TestRunEvaluation_MissingTrace(t *testing.T) {
	st := testutil.NewStore(t)
	ctx := testutil.TestContext(t)
	ev := New(st, nil)

	result, err := ev.RunEvaluation(ctx, "nope", nil)
	require.NoError(t, err)
	assert.Equal(t, studio.EvalFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, "Trace nope not found", *result.Error)

	list, err := ev.ListResults(ctx, "nope", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, studio.EvalFailed, list[0].Status)
}

func TestRunEvaluation_PersistsRunningFirst(t *testing.T) {
	st := testutil.NewStore(t)
	seedTrace(t, st, fixtures.InvocationSpan("s1", "t1", map[string]any{"question": "why?"}, map[string]any{"answer": "because"}))
	ctx := testutil.TestContext(t)

	var seen studio.EvalStatus
	judge := judgeFunc(func(ctx context.Context, q, a string, _ []studio.EvalMetric) (map[string]float64, error) {
		list, err := st.ListEvals(ctx, store.EvalFilter{TraceID: "t1"})
		require.NoError(t, err)
		require.Len(t, list, 1)
		seen = list[0].Status
		assert.Equal(t, "why?", q)
		assert.Equal(t, "because", a)
		return map[string]float64{"coherence": 0.5, MetricEvalMethod: 1}, nil
	})

	result, err := New(st, nil, WithJudge(judge)).RunEvaluation(ctx, "t1", []studio.EvalMetric{studio.MetricCoherence})
	require.NoError(t, err)
	assert.Equal(t, studio.EvalRunning, seen)
	assert.Equal(t, studio.EvalCompleted, result.Status)
	assert.Equal(t, "agent-a", result.AgentID)
	assert.Equal(t, 0.5, result.Metrics["coherence"])
	assert.Equal(t, 1.0, result.Metrics[MetricEvalMethod])
	assert.Equal(t, 1.0, result.Metrics[StatTotalSpans])
}

type judgeFunc func(ctx context.Context, q, a string, m []studio.EvalMetric) (map[string]float64, error)

func (f judgeFunc) Score(ctx context.Context, q, a string, m []studio.EvalMetric) (map[string]float64, error) {
	return f(ctx, q, a, m)
}

func TestRunEvaluation_JudgeFailureKeepsStats(t *testing.T) {
	st := testutil.NewStore(t)
	seedTrace(t, st,
		fixtures.InvocationSpan("s1", "t1", map[string]any{"prompt": "hi"}, map[string]any{"response": "hello"}),
		fixtures.Span("s2", "t1", studio.SpanKindLLMCall, 10*time.Millisecond),
	)
	ctx := testutil.TestContext(t)

	provider := mocks.NewMockProvider().WithError(&llm.Error{Code: llm.ErrUnauthorized, Message: "invalid api key"})
	rec := &fakeRecorder{}
	ev := New(st, nil, WithJudge(NewLLMJudge(provider, "", rec, nil)), WithRecorder(rec))

	result, err := ev.RunEvaluation(ctx, "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, studio.EvalFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Contains(t, *result.Error, "invalid api key")
	assert.Equal(t, 2.0, result.Metrics[StatTotalSpans])
	assert.Equal(t, 1.0, result.Metrics[StatLLMCalls])
	_, hasScore := result.Metrics["coherence"]
	assert.False(t, hasScore)

	assert.Equal(t, []bool{false}, rec.judgeCalls)
	assert.Equal(t, []string{"llm_judge/failed"}, rec.evaluations)
}

func TestRunEvaluation_HeuristicWhenAnswerMissing(t *testing.T) {
	st := testutil.NewStore(t)
	seedTrace(t, st, fixtures.InvocationSpan("s1", "t1", map[string]any{"prompt": "hi"}, nil))
	ctx := testutil.TestContext(t)

	provider := mocks.NewMockProvider()
	ev := New(st, nil, WithJudge(NewLLMJudge(provider, "", nil, nil)))

	result, err := ev.RunEvaluation(ctx, "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, provider.CallCount())
	assert.Equal(t, 0.0, result.Metrics["answer_relevancy"])
	assert.Equal(t, 0.0, result.Metrics[MetricEvalMethod])
}

func TestRunEvaluation_HeuristicIsIdempotent(t *testing.T) {
	st := testutil.NewStore(t)
	failed := fixtures.Span("s2", "t1", studio.SpanKindToolCall, 0)
	failed.Status = studio.StatusError
	seedTrace(t, st,
		fixtures.InvocationSpan("s1", "t1", nil, map[string]any{"output": "done"}),
		failed,
	)
	ctx := testutil.TestContext(t)
	ev := New(st, nil)
	metrics := []studio.EvalMetric{studio.MetricAnswerRelevancy, studio.MetricHarmfulness}

	first, err := ev.RunEvaluation(ctx, "t1", metrics)
	require.NoError(t, err)
	second, err := ev.RunEvaluation(ctx, "t1", metrics)
	require.NoError(t, err)

	assert.NotEqual(t, first.EvalID, second.EvalID)
	assert.Equal(t, first.Metrics, second.Metrics)
	assert.Equal(t, 0.5, first.Metrics["answer_relevancy"], "one of two spans failed")
	_, hasCoherence := first.Metrics["coherence"]
	assert.False(t, hasCoherence, "only requested metrics are scored")
}

func TestRunEvaluation_TokenEstimate(t *testing.T) {
	st := testutil.NewStore(t)
	llmSpan := fixtures.Span("s1", "t1", studio.SpanKindLLMCall, 0)
	llmSpan.InputData = "abcdefgh"
	llmSpan.OutputData = "abcd"
	seedTrace(t, st, llmSpan)

	result, err := New(st, nil, WithTokenCounter(tokenizer.NewEstimator())).RunEvaluation(testutil.TestContext(t), "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, 3.0, result.Metrics[StatLLMTokensEstimate])
}

func TestGetResult_NotFound(t *testing.T) {
	_, err := New(testutil.NewStore(t), nil).GetResult(testutil.TestContext(t), "missing")
	assert.True(t, types.IsNotFound(err))
}

func TestParseMetrics(t *testing.T) {
	all, err := ParseMetrics(nil)
	require.NoError(t, err)
	assert.Equal(t, studio.AllMetrics(), all)

	some, err := ParseMetrics([]string{"coherence"})
	require.NoError(t, err)
	assert.Equal(t, []studio.EvalMetric{studio.MetricCoherence}, some)

	_, err = ParseMetrics([]string{"vibes"})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

// =============================================================================
// Judge over an OpenAI-compatible endpoint
// =============================================================================

func TestJudgeFromConfig_DisabledWithoutKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	assert.Nil(t, JudgeFromConfig(config.EvaluatorConfig{}, nil, nil))
}

func TestJudgeFromConfig_ScoresOverHTTP(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		Temperature float32 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant",
				"content": "` + "```json" + `\n{\"answer_relevancy\": 1.7, \"coherence\": 0.123456, \"completeness\": -0.2, \"harmfulness\": \"0.05\"}\n` + "```" + `"}}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150}
		}`))
	}))
	defer srv.Close()

	rec := &fakeRecorder{}
	judge := JudgeFromConfig(config.EvaluatorConfig{
		BaseURL: srv.URL,
		APIKey:  "sk-test",
		Timeout: 5 * time.Second,
	}, rec, zaptest.NewLogger(t))
	require.NotNil(t, judge)

	long := make([]rune, 2500)
	for i := range long {
		long[i] = 'q'
	}
	scores, err := judge.Score(testutil.TestContext(t), string(long), "an answer", studio.AllMetrics())
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{
		"answer_relevancy": 1,
		"coherence":        0.1235,
		"completeness":     0,
		"harmfulness":      0.05,
		MetricEvalMethod:   1,
	}, scores)

	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, DefaultJudgeModel, got.Model)
	assert.Equal(t, float32(0), got.Temperature)
	assert.Equal(t, 256, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, string(long[:2000])+"\n")
	assert.NotContains(t, got.Messages[0].Content, string(long[:2001]))

	assert.Equal(t, []bool{true}, rec.judgeCalls)
	assert.Equal(t, [2]int{120, 30}, rec.tokens)
}

func TestParseScores(t *testing.T) {
	metrics := []studio.EvalMetric{studio.MetricCoherence}

	scores, err := parseScores(`{"coherence": 0.81234, "extra": 1}`, metrics)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"coherence": 0.8123}, scores)

	scores, err = parseScores("```\n{\"completeness\": 1}\n```", metrics)
	require.NoError(t, err)
	assert.Empty(t, scores, "metrics missing from the reply are omitted")

	_, err = parseScores("I think it is fine", metrics)
	assert.Error(t, err)

	_, err = parseScores(`{"coherence": "high"}`, metrics)
	assert.Error(t, err)
}
