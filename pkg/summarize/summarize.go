// Package summarize produces the short summary stored on each evidence record.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/config"
	"github.com/ekaya-inc/evidence-engine/pkg/logging"
	"github.com/ekaya-inc/evidence-engine/pkg/retry"
)

// maxPromptRunes bounds how much evidence text is sent to the model.
const maxPromptRunes = 24000

const systemPrompt = `You summarize evidence submitted to a law enforcement case system.
Write at most %d plain sentences stating what the document describes: events, items, places and dates.
Do not speculate, do not add facts, and do not include names, email addresses, phone numbers or ID numbers.`

// Result is a summary and whether the extractive fallback produced it.
type Result struct {
	Summary  string
	Degraded bool
}

// Summarizer produces record summaries. Summarize never fails.
type Summarizer interface {
	Summarize(ctx context.Context, text string) Result
}

// MessagesClient is the subset of the Anthropic client used here.
type MessagesClient interface {
	CreateMessages(ctx context.Context, req anthropic.MessagesRequest) (anthropic.MessagesResponse, error)
}

type summarizer struct {
	client       MessagesClient
	model        string
	maxSentences int
	timeout      time.Duration
	extractive   *FrequencySummarizer
	breaker      *retry.CircuitBreaker
	logger       *zap.Logger
}

var _ Summarizer = (*summarizer)(nil)

// New creates a Summarizer from configuration. Without an API key every
// summary is extractive and not marked degraded.
func New(cfg config.SummarizerConfig, logger *zap.Logger) Summarizer {
	var client MessagesClient
	if cfg.APIKey != "" {
		client = anthropic.NewClient(cfg.APIKey)
	}
	return NewWithClient(client, cfg, logger)
}

// NewWithClient creates a Summarizer around an explicit client, which may be nil.
func NewWithClient(client MessagesClient, cfg config.SummarizerConfig, logger *zap.Logger) Summarizer {
	if cfg.MaxSentences <= 0 {
		cfg.MaxSentences = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &summarizer{
		client:       client,
		model:        cfg.Model,
		maxSentences: cfg.MaxSentences,
		timeout:      cfg.Timeout,
		extractive:   NewFrequencySummarizer(),
		breaker:      retry.NewCircuitBreaker(retry.DefaultCircuitBreakerConfig("summarizer")),
		logger:       logger.Named("summarizer"),
	}
}

func (s *summarizer) Summarize(ctx context.Context, text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{}
	}
	if s.client == nil {
		return Result{Summary: s.extractive.Extract(text, s.maxSentences)}
	}

	if allowed, err := s.breaker.Allow(); !allowed {
		return s.fallback(text, err)
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	summary, err := s.complete(callCtx, text)
	s.breaker.Record(err)
	if err != nil {
		return s.fallback(text, err)
	}
	return Result{Summary: summary}
}

func (s *summarizer) complete(ctx context.Context, text string) (string, error) {
	prompt := truncateRunes(text, maxPromptRunes)
	system := fmt.Sprintf(systemPrompt, s.maxSentences)

	resp, err := s.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(s.model),
		MaxTokens: 400,
		System:    system,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		return "", fmt.Errorf("create message: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			if out := strings.TrimSpace(*block.Text); out != "" {
				return out, nil
			}
		}
	}
	return "", errors.New("create message: no text in response")
}

func (s *summarizer) fallback(text string, cause error) Result {
	s.logger.Warn("Summarizer unavailable, using extractive summary",
		zap.String("error", logging.SanitizeError(cause)))
	return Result{Summary: s.extractive.Extract(text, s.maxSentences), Degraded: true}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
