package providers

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/D10S0VSkY-OSS/kiboserve/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMapHTTPError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		msg       string
		wantCode  llm.ErrorCode
		wantRetry bool
	}{
		{"unauthorized", http.StatusUnauthorized, "invalid api key", llm.ErrUnauthorized, false},
		{"forbidden", http.StatusForbidden, "blocked", llm.ErrForbidden, false},
		{"rate limited", http.StatusTooManyRequests, "slow down", llm.ErrRateLimited, true},
		{"bad request", http.StatusBadRequest, "missing messages", llm.ErrInvalidRequest, false},
		{"quota", http.StatusBadRequest, "You exceeded your current Quota", llm.ErrQuotaExceeded, false},
		{"credit", http.StatusBadRequest, "insufficient CREDIT balance", llm.ErrQuotaExceeded, false},
		{"gateway timeout", http.StatusGatewayTimeout, "timeout", llm.ErrUpstreamTimeout, true},
		{"overloaded", 529, "overloaded", llm.ErrModelOverloaded, true},
		{"bad gateway", http.StatusBadGateway, "bad gateway", llm.ErrUpstreamError, true},
		{"internal", http.StatusInternalServerError, "boom", llm.ErrUpstreamError, true},
		{"not found", http.StatusNotFound, "no such model", llm.ErrUpstreamError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := MapHTTPError(tt.status, tt.msg, "openai")
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.wantRetry, e.Retryable)
			assert.Equal(t, tt.status, e.HTTPStatus)
			assert.Equal(t, tt.msg, e.Message)
			assert.Equal(t, "openai", e.Provider)
		})
	}
}

func TestMapHTTPError_ServerErrorsAlwaysRetryable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		status := rapid.IntRange(500, 599).Draw(t, "status")
		e := MapHTTPError(status, rapid.String().Draw(t, "msg"), "p")
		if !e.Retryable {
			t.Fatalf("status %d mapped to non-retryable %s", status, e.Code)
		}
	})
}

func TestReadErrorMessage(t *testing.T) {
	assert.Equal(t, "bad key (type: invalid_request_error)",
		ReadErrorMessage(strings.NewReader(`{"error":{"message":"bad key","type":"invalid_request_error"}}`)))
	assert.Equal(t, "bad key", ReadErrorMessage(strings.NewReader(`{"error":{"message":"bad key"}}`)))
	assert.Equal(t, "upstream exploded", ReadErrorMessage(strings.NewReader("upstream exploded\n")))
}

func TestToLLMChatResponse(t *testing.T) {
	resp := ToLLMChatResponse(OpenAICompatResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-4o-mini",
		Choices: []OpenAICompatChoice{
			{Index: 0, FinishReason: "stop", Message: OpenAICompatMessage{Role: "assistant", Content: " {\"score\":1} "}},
		},
		Usage: &OpenAICompatUsage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13},
	}, "openai")

	assert.Equal(t, "openai", resp.Provider)
	assert.Equal(t, 13, resp.Usage.TotalTokens)
	content, err := resp.Content()
	require.NoError(t, err)
	assert.Equal(t, `{"score":1}`, content)
}

func TestToLLMChatResponse_NoChoices(t *testing.T) {
	resp := ToLLMChatResponse(OpenAICompatResponse{Model: "m"}, "openai")
	_, err := resp.Content()

	var llmErr *llm.Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, llm.ErrEmptyCompletion, llmErr.Code)
	assert.Equal(t, "openai", llmErr.Provider)
}

func TestChooseModel(t *testing.T) {
	assert.Equal(t, "req", ChooseModel(&llm.ChatRequest{Model: "req"}, "def", "fb"))
	assert.Equal(t, "def", ChooseModel(&llm.ChatRequest{}, "def", "fb"))
	assert.Equal(t, "fb", ChooseModel(nil, "", "fb"))
}

func TestConvertMessagesToOpenAI(t *testing.T) {
	out := ConvertMessagesToOpenAI([]llm.Message{
		{Role: llm.RoleSystem, Content: "judge"},
		{Role: llm.RoleUser, Content: "q", Name: "alice"},
	})
	require.Len(t, out, 2)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "alice", out[1].Name)
}
