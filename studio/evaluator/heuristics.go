package evaluator

import (
	"encoding/json"
	"fmt"

	"github.com/D10S0VSkY-OSS/kiboserve/llm/tokenizer"
	"github.com/D10S0VSkY-OSS/kiboserve/studio"
)

// Metric keys written next to the requested metrics.
const (
	MetricEvalMethod      = "eval_method"
	StatTotalSpans        = "total_spans"
	StatLLMCalls          = "llm_calls"
	StatToolCalls         = "tool_calls"
	StatErrorCount        = "error_count"
	StatTotalDurationMs   = "total_duration_ms"
	StatLLMDurationMs     = "llm_duration_ms"
	StatLLMTimeRatio      = "llm_time_ratio"
	StatLLMTokensEstimate = "llm_tokens_estimated"
)

var (
	questionKeys = []string{"question", "prompt", "query", "message", "input"}
	answerKeys   = []string{"response", "answer", "output", "content"}
)

// heuristicScores grades without a judge. Relevancy is reduced by the share
// of failed spans; harmfulness is not assessed and always 0.
func heuristicScores(spans []studio.Span, metrics []studio.EvalMetric) map[string]float64 {
	var errCount int
	hasOutput := false
	for i := range spans {
		if spans[i].Status == studio.StatusError {
			errCount++
		}
		if truthy(spans[i].OutputData) {
			hasOutput = true
		}
	}
	base := 0.0
	if hasOutput {
		base = 1.0
	}

	scores := make(map[string]float64, len(metrics)+1)
	for _, m := range metrics {
		switch m {
		case studio.MetricAnswerRelevancy:
			score := base
			if errCount > 0 {
				score *= max(0, 1-float64(errCount)/float64(max(len(spans), 1)))
			}
			scores[string(m)] = studio.Round(score, 4)
		case studio.MetricCoherence, studio.MetricCompleteness:
			scores[string(m)] = base
		case studio.MetricHarmfulness:
			scores[string(m)] = 0
		}
	}
	scores[MetricEvalMethod] = 0
	return scores
}

// spanStats summarizes the trace's spans. A non-nil counter adds an estimate
// of the tokens exchanged by llm_call spans.
func spanStats(spans []studio.Span, counter tokenizer.Counter) map[string]float64 {
	var llmCalls, toolCalls, errCount, tokens int
	var total, llm float64
	for i := range spans {
		s := &spans[i]
		d := 0.0
		if s.DurationMs != nil {
			d = *s.DurationMs
		}
		total += d
		switch s.Kind {
		case studio.SpanKindLLMCall:
			llmCalls++
			llm += d
			if counter != nil {
				tokens += countPayload(counter, s.InputData) + countPayload(counter, s.OutputData)
			}
		case studio.SpanKindToolCall:
			toolCalls++
		}
		if s.Status == studio.StatusError {
			errCount++
		}
	}

	stats := map[string]float64{
		StatTotalSpans:      float64(len(spans)),
		StatLLMCalls:        float64(llmCalls),
		StatToolCalls:       float64(toolCalls),
		StatErrorCount:      float64(errCount),
		StatTotalDurationMs: studio.Round(total, 2),
		StatLLMDurationMs:   studio.Round(llm, 2),
	}
	if total > 0 {
		stats[StatLLMTimeRatio] = studio.Round(llm/total, 4)
	}
	if counter != nil {
		stats[StatLLMTokensEstimate] = float64(tokens)
	}
	return stats
}

func countPayload(c tokenizer.Counter, v any) int {
	if !truthy(v) {
		return 0
	}
	n, err := c.CountTokens(stringify(v))
	if err != nil {
		return 0
	}
	return n
}

// extractQA scans invocation spans in order; the last span providing a
// question (or answer) wins.
func extractQA(spans []studio.Span) (question, answer string) {
	for i := range spans {
		s := &spans[i]
		if s.Kind != studio.SpanKindInvocation {
			continue
		}
		if q := extractText(s.InputData, questionKeys); q != "" {
			question = q
		}
		if a := extractText(s.OutputData, answerKeys); a != "" {
			answer = a
		}
	}
	return question, answer
}

// extractText returns the first truthy value among keys. Non-object payloads
// are used as a whole.
func extractText(data any, keys []string) string {
	if !truthy(data) {
		return ""
	}
	obj, ok := data.(map[string]any)
	if !ok {
		return stringify(data)
	}
	for _, k := range keys {
		if v := obj[k]; truthy(v) {
			return coerceText(v)
		}
	}
	return ""
}

// coerceText flattens a payload value. For a list of turns the last turn is
// used, preferring its "content".
func coerceText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []any:
		last := x[len(x)-1]
		if m, ok := last.(map[string]any); ok {
			if c, ok := m["content"]; ok {
				return stringify(c)
			}
		}
		return stringify(last)
	case map[string]any:
		if c, ok := x["content"]; ok {
			return stringify(c)
		}
		return stringify(x)
	default:
		return stringify(x)
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	case float64, bool:
		return fmt.Sprint(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

// truthy mirrors JSON emptiness: nil, "", 0, false and empty containers are
// empty.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case float64:
		return x != 0
	case int:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}
