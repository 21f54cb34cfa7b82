package main

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/blueberrycongee/fincopilot/internal/config"
	"github.com/blueberrycongee/fincopilot/internal/history"
	"github.com/blueberrycongee/fincopilot/internal/llm"
	"github.com/blueberrycongee/fincopilot/internal/resilience"
)

var errKeyNotConfigured = errors.New("llm api key is not configured")

// swappableCompleter lets a config reload replace the model client without
// rebuilding the chat service. A nil client means no API key is configured.
type swappableCompleter struct {
	current atomic.Pointer[llm.OpenAIClient]
}

func (s *swappableCompleter) Complete(ctx context.Context, past []history.Message, question string) (string, error) {
	c := s.current.Load()
	if c == nil {
		return "", errKeyNotConfigured
	}
	return c.Complete(ctx, past, question)
}

func (s *swappableCompleter) Configured() bool {
	return s.current.Load() != nil
}

func (s *swappableCompleter) Swap(c *llm.OpenAIClient) {
	s.current.Store(c)
}

func llmConfig(cfg config.LLMConfig) llm.Config {
	retry := resilience.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries
	return llm.Config{
		APIKey:       cfg.APIKey,
		APIBase:      cfg.APIBase,
		Model:        cfg.Model,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		SystemPrompt: cfg.SystemPrompt,
		Timeout:      cfg.Timeout,
		Retry:        retry,
	}
}

// buildCompleter returns nil without error when no key is set.
func buildCompleter(cfg *config.Config) (*llm.OpenAIClient, error) {
	if cfg.LLM.APIKey == "" {
		return nil, nil
	}
	return llm.NewOpenAIClient(llmConfig(cfg.LLM))
}

type completerReloader struct {
	logger     *slog.Logger
	target     *swappableCompleter
	build      func(*config.Config) (*llm.OpenAIClient, error)
	last       atomic.Pointer[config.LLMConfig]
	inProgress atomic.Bool
}

func newCompleterReloader(logger *slog.Logger, target *swappableCompleter, build func(*config.Config) (*llm.OpenAIClient, error)) *completerReloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &completerReloader{logger: logger, target: target, build: build}
}

// Reload rebuilds the client when the llm section changed. On failure the
// current client is kept.
func (r *completerReloader) Reload(cfg *config.Config) {
	if prev := r.last.Load(); prev != nil && *prev == cfg.LLM {
		return
	}
	if !r.inProgress.CompareAndSwap(false, true) {
		r.logger.Warn("llm client reload already in progress")
		return
	}
	defer r.inProgress.Store(false)

	next, err := r.build(cfg)
	if err != nil {
		r.logger.Error("failed to rebuild llm client", "error", err)
		return
	}
	r.target.Swap(next)
	snapshot := cfg.LLM
	r.last.Store(&snapshot)

	r.logger.Info("llm client reloaded",
		"model", cfg.LLM.Model,
		"api_key_configured", next != nil,
	)
}
