// Package inference implements the staged model engine: binary
// classification, structured extraction, and pairwise matching against a
// local OpenAI-compatible inference server.
//
// Every operation is stateless across calls. A fresh client and a fresh
// request context are created per call and torn down unconditionally;
// reusing shared model state under sustained batch load is what exhausts
// resources, so the disposable-context discipline here is a correctness
// property, not an optimization.
package inference

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"jobsift/core/port/out"
	"jobsift/pkg/apperr"
)

// EngineConfig holds per-stage budgets. All values come from
// configuration; the engine hardcodes nothing.
type EngineConfig struct {
	BaseURL string
	APIKey  string
	Model   string

	ClassifyTimeout   time.Duration
	ExtractTimeout    time.Duration
	MatchTimeout      time.Duration
	ClassifyMaxTokens int
	ExtractMaxTokens  int
	MatchMaxTokens    int
	ClassifyBodyLimit int
	ExtractBodyLimit  int

	// Concurrency bounds simultaneous model invocations globally,
	// regardless of how many groups run in parallel.
	Concurrency int

	// BreakerOpenFailures consecutive model failures open the breaker;
	// while open, calls route straight to the rule-based fallback.
	BreakerOpenFailures int

	CacheTTL time.Duration
}

// Engine exposes the three staged operations.
type Engine struct {
	cfg     EngineConfig
	breaker *gobreaker.CircuitBreaker
	sem     chan struct{}
	cache   *StageCache
	log     zerolog.Logger
}

// NewEngine creates a staged inference engine. cache may be nil, in which
// case every call goes to the model (or its fallback).
func NewEngine(cfg EngineConfig, cache out.Cache, log zerolog.Logger) *Engine {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	failures := uint32(cfg.BreakerOpenFailures)
	if failures == 0 {
		failures = 5
	}

	var stageCache *StageCache
	if cache != nil {
		stageCache = NewStageCache(cache, cfg.CacheTTL)
	}

	return &Engine{
		cfg: cfg,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "inference",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			Timeout: 30 * time.Second,
		}),
		sem:   make(chan struct{}, cfg.Concurrency),
		cache: stageCache,
		log:   log.With().Str("component", "inference").Logger(),
	}
}

// invoke performs one disposable model call: acquire the global slot,
// build a throwaway client, race the request against the stage timeout,
// and always release everything before returning.
func (e *Engine) invoke(ctx context.Context, stage string, timeout time.Duration, maxTokens int, systemPrompt, userPrompt string) (string, error) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return "", apperr.ModelTimeout(stage)
	}
	defer func() { <-e.sem }()

	result, err := e.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel() // abandons the HTTP request and frees its resources

		client := newDisposableClient(e.cfg.BaseURL, e.cfg.APIKey)

		type completion struct {
			text string
			err  error
		}
		done := make(chan completion, 1)
		go func() {
			resp, err := client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
				Model:     e.cfg.Model,
				MaxTokens: maxTokens,
				Messages: []openai.ChatCompletionMessage{
					{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
					{Role: openai.ChatMessageRoleUser, Content: userPrompt},
				},
				ResponseFormat: &openai.ChatCompletionResponseFormat{
					Type: openai.ChatCompletionResponseFormatTypeJSONObject,
				},
			})
			if err != nil {
				done <- completion{err: err}
				return
			}
			if len(resp.Choices) == 0 {
				done <- completion{err: errors.New("empty completion")}
				return
			}
			done <- completion{text: resp.Choices[0].Message.Content}
		}()

		select {
		case c := <-done:
			if c.err != nil {
				if callCtx.Err() == context.DeadlineExceeded {
					return nil, apperr.ModelTimeout(stage)
				}
				return nil, apperr.ModelError(stage, c.err)
			}
			return c.text, nil
		case <-callCtx.Done():
			if callCtx.Err() == context.DeadlineExceeded {
				return nil, apperr.ModelTimeout(stage)
			}
			return nil, apperr.ModelError(stage, callCtx.Err())
		}
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", apperr.ModelError(stage, err)
		}
		return "", err
	}
	return result.(string), nil
}

// newDisposableClient builds a single-use client for the local endpoint.
func newDisposableClient(baseURL, apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return openai.NewClientWithConfig(cfg)
}

func truncateBody(body string, maxLen int) string {
	if len(body) <= maxLen {
		return body
	}
	return body[:maxLen] + "..."
}
