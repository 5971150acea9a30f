// Package embedding converts text into fixed-dimension vectors. When the
// external provider is unavailable it degrades to a deterministic hash vector
// instead of failing.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/config"
	"github.com/ekaya-inc/evidence-engine/pkg/logging"
	"github.com/ekaya-inc/evidence-engine/pkg/retry"
)

// Source identifies which path produced a vector.
type Source string

const (
	SourceProvider Source = "provider"
	SourceCache    Source = "cache"
	SourceHash     Source = "hash"
)

// Result is an embedding plus how it was obtained. Degraded is true whenever
// the hash fallback was used.
type Result struct {
	Vector   []float32
	Degraded bool
	Source   Source
}

// Generator produces embeddings. Embed never fails.
type Generator interface {
	Embed(ctx context.Context, text string) Result
	Dimension() int
}

// Options tunes the generator.
type Options struct {
	Dimension int
	Timeout   time.Duration
	Breaker   retry.CircuitBreakerConfig
}

// OptionsFromConfig derives generator options from configuration.
func OptionsFromConfig(cfg config.EmbeddingConfig) Options {
	return Options{
		Dimension: cfg.Dimension,
		Timeout:   cfg.Timeout,
		Breaker: retry.CircuitBreakerConfig{
			Name:       "embedding provider",
			Threshold:  cfg.BreakerTrips,
			ResetAfter: cfg.BreakerResetAt,
		},
	}
}

type generator struct {
	provider Provider
	cache    Cache
	fallback *HashEmbedder
	breaker  *retry.CircuitBreaker
	timeout  time.Duration
	logger   *zap.Logger
}

var _ Generator = (*generator)(nil)

// NewGenerator creates a Generator. provider and cache may be nil.
func NewGenerator(provider Provider, cache Cache, opts Options, logger *zap.Logger) Generator {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &generator{
		provider: provider,
		cache:    cache,
		fallback: NewHashEmbedder(opts.Dimension),
		breaker:  retry.NewCircuitBreaker(opts.Breaker),
		timeout:  opts.Timeout,
		logger:   logger.Named("embedding"),
	}
}

func (g *generator) Dimension() int { return g.fallback.Dimension() }

func (g *generator) Embed(ctx context.Context, text string) Result {
	if g.provider == nil {
		return g.degraded(text, nil)
	}

	// The provider call outlives a disconnecting caller but never the timeout.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	if g.cache != nil {
		if vec, ok := g.cache.Get(callCtx, g.provider.Model(), text); ok && len(vec) == g.Dimension() {
			return Result{Vector: vec, Source: SourceCache}
		}
	}

	if allowed, err := g.breaker.Allow(); !allowed {
		return g.degraded(text, err)
	}

	var vec []float32
	err := retry.DoIfRetryable(callCtx, retry.UpstreamConfig(), func() error {
		v, err := g.provider.Embed(callCtx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err == nil && len(vec) != g.Dimension() {
		err = fmt.Errorf("provider returned %d dimensions, expected %d", len(vec), g.Dimension())
	}
	g.breaker.Record(err)
	if err != nil {
		return g.degraded(text, err)
	}

	if g.cache != nil {
		g.cache.Set(callCtx, g.provider.Model(), text, vec)
	}
	return Result{Vector: vec, Source: SourceProvider}
}

func (g *generator) degraded(text string, cause error) Result {
	if cause != nil {
		g.logger.Warn("Embedding provider unavailable, using hash fallback",
			zap.String("error", logging.SanitizeError(cause)),
			zap.Bool("circuit_open", errors.Is(cause, retry.ErrCircuitOpen)))
	}
	return Result{Vector: g.fallback.Embed(text), Degraded: true, Source: SourceHash}
}
