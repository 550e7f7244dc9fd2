// Package openaicompat implements llm.Provider for endpoints that speak the
// OpenAI Chat Completions format.
//
// Only synchronous completions are supported. HealthCheck calls the models
// endpoint.
//
//	p := openaicompat.New(openaicompat.Config{
//	    BaseProviderConfig: providers.BaseProviderConfig{
//	        APIKey:  cfg.Evaluator.ResolveAPIKey(),
//	        BaseURL: cfg.Evaluator.BaseURL,
//	        Model:   cfg.Evaluator.Model,
//	        Timeout: cfg.Evaluator.Timeout,
//	    },
//	}, logger)
package openaicompat
