package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/llm"
	"github.com/D10S0VSkY-OSS/kiboserve/testutil/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
		RetryableOnly: true,
	}
}

func TestRetryableProvider_RetriesTransientErrors(t *testing.T) {
	calls := 0
	inner := mocks.NewMockProvider().WithCompletionFunc(func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		if calls < 3 {
			return nil, MapHTTPError(503, "unavailable", "mock")
		}
		return &llm.ChatResponse{Choices: []llm.ChatChoice{{Message: llm.Message{Content: "ok"}}}}, nil
	})

	p := NewRetryableProvider(inner, fastRetry(), zap.NewNop())
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)
	content, _ := resp.Content()
	assert.Equal(t, "ok", content)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "mock", p.Name())
}

func TestRetryableProvider_StopsOnPermanentError(t *testing.T) {
	inner := mocks.NewMockProvider().WithError(MapHTTPError(401, "bad key", "mock"))

	p := NewRetryableProvider(inner, fastRetry(), nil)
	_, err := p.Completion(context.Background(), &llm.ChatRequest{})

	var llmErr *llm.Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, llm.ErrUnauthorized, llmErr.Code)
	assert.Equal(t, 1, inner.CallCount())
}

func TestRetryableProvider_GivesUp(t *testing.T) {
	inner := mocks.NewMockProvider().WithError(MapHTTPError(429, "slow down", "mock"))

	p := NewRetryableProvider(inner, fastRetry(), nil)
	_, err := p.Completion(context.Background(), &llm.ChatRequest{})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 retries")
	assert.Equal(t, 4, inner.CallCount())
}

func TestRetryableProvider_ContextCancelled(t *testing.T) {
	inner := mocks.NewMockProvider().WithError(MapHTTPError(503, "down", "mock"))
	cfg := fastRetry()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := NewRetryableProvider(inner, cfg, nil).Completion(ctx, &llm.ChatRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateDelay_Capped(t *testing.T) {
	p := NewRetryableProvider(mocks.NewMockProvider(), RetryConfig{
		InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2,
	}, nil)
	assert.Equal(t, 100*time.Millisecond, p.calculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, p.calculateDelay(2))
	assert.Equal(t, 300*time.Millisecond, p.calculateDelay(3))
}
