package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/D10S0VSkY-OSS/kiboserve/llm"
	"go.uber.org/zap"
)

// RetryConfig controls how RetryableProvider backs off between attempts.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
	// RetryableOnly skips the retry when the error is not an *llm.Error
	// marked Retryable.
	RetryableOnly bool `json:"retryable_only"`
}

// DefaultRetryConfig is the policy the evaluator uses for judge calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		RetryableOnly: true,
	}
}

// RetryableProvider retries failed completions of the wrapped provider.
type RetryableProvider struct {
	llm.Provider
	cfg    RetryConfig
	logger *zap.Logger
}

// NewRetryableProvider wraps inner. Name and HealthCheck pass straight through.
func NewRetryableProvider(inner llm.Provider, cfg RetryConfig, logger *zap.Logger) *RetryableProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryableProvider{
		Provider: inner,
		cfg:      cfg,
		logger: logger.With(
			zap.String("component", "retry_provider"),
			zap.String("provider", inner.Name()),
		),
	}
}

var _ llm.Provider = (*RetryableProvider)(nil)

// Completion calls the wrapped provider until it succeeds, the error is
// permanent, the attempts run out or ctx ends.
func (p *RetryableProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := p.Provider.Completion(ctx, req)
	for attempt := 1; err != nil; attempt++ {
		if !p.shouldRetry(err) {
			return nil, err
		}
		if attempt > p.cfg.MaxRetries {
			return nil, fmt.Errorf("completion failed after %d retries: %w", p.cfg.MaxRetries, err)
		}

		delay := p.calculateDelay(attempt)
		p.logger.Warn("completion failed, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if werr := sleepCtx(ctx, delay); werr != nil {
			return nil, werr
		}
		resp, err = p.Provider.Completion(ctx, req)
	}
	return resp, nil
}

func (p *RetryableProvider) shouldRetry(err error) bool {
	if !p.cfg.RetryableOnly {
		return true
	}
	var llmErr *llm.Error
	return errors.As(err, &llmErr) && llmErr.Retryable
}

// calculateDelay returns InitialDelay * BackoffFactor^(attempt-1), capped at MaxDelay.
func (p *RetryableProvider) calculateDelay(attempt int) time.Duration {
	delay := p.cfg.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.cfg.BackoffFactor)
		if delay >= p.cfg.MaxDelay {
			break
		}
	}
	if p.cfg.MaxDelay > 0 && delay > p.cfg.MaxDelay {
		return p.cfg.MaxDelay
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
