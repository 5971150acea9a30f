package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/apperrors"
	"github.com/ekaya-inc/evidence-engine/pkg/logging"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
	"github.com/ekaya-inc/evidence-engine/pkg/retry"
)

// UpsertResult reports where an entry landed.
type UpsertResult struct {
	ID       string
	Backend  string
	Degraded bool
}

// QueryResult carries ranked matches and whether the primary index was skipped.
type QueryResult struct {
	Matches  []models.VectorMatch
	Backend  string
	Degraded bool
}

// Gateway fronts the configured vector index and the in-memory fallback.
type Gateway interface {
	Upsert(ctx context.Context, entry *models.VectorEntry) (*UpsertResult, error)
	Query(ctx context.Context, vector []float32, topK int, filter models.VectorFilter, namespaces ...models.Namespace) (*QueryResult, error)
	// Delete removes a file's vectors from every namespace of every backend.
	Delete(ctx context.Context, fileID uuid.UUID) error
	Primary() string
	// Degraded reports whether calls are currently diverted to memory.
	Degraded() bool
	Dimension() int
}

// GatewayOptions tunes a Gateway.
type GatewayOptions struct {
	Dimension      int
	Timeout        time.Duration
	StickyFallback bool
	Breaker        retry.CircuitBreakerConfig
}

type gateway struct {
	primary   Store // nil when only the memory backend is configured
	memory    *MemoryStore
	breaker   *retry.CircuitBreaker
	dimension int
	timeout   time.Duration
	sticky    bool
	stuck     atomic.Bool
	logger    *zap.Logger
}

var _ Gateway = (*gateway)(nil)

// NewGateway creates a Gateway. primary may be nil.
func NewGateway(primary Store, memory *MemoryStore, opts GatewayOptions, logger *zap.Logger) Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Breaker.Name == "" {
		opts.Breaker = retry.DefaultCircuitBreakerConfig("vector store")
	}
	return &gateway{
		primary:   primary,
		memory:    memory,
		breaker:   retry.NewCircuitBreaker(opts.Breaker),
		dimension: opts.Dimension,
		timeout:   opts.Timeout,
		sticky:    opts.StickyFallback,
		logger:    logger.Named("vector-gateway"),
	}
}

func (g *gateway) Primary() string {
	if g.primary == nil {
		return BackendMemory
	}
	return g.primary.Name()
}

func (g *gateway) Degraded() bool {
	if g.primary == nil {
		return false
	}
	return g.stuck.Load() || g.breaker.State() == retry.CircuitOpen
}

func (g *gateway) Dimension() int { return g.dimension }

// selection is the backend chosen for one call.
type selection struct {
	store    Store
	external bool
	// degraded is set when a configured primary was skipped.
	degraded bool
}

// selectBackend picks the backend for a single call.
func (g *gateway) selectBackend() selection {
	if g.primary == nil {
		return selection{store: g.memory}
	}
	if g.sticky && g.stuck.Load() {
		return selection{store: g.memory, degraded: true}
	}
	if ok, _ := g.breaker.Allow(); !ok {
		return selection{store: g.memory, degraded: true}
	}
	return selection{store: g.primary, external: true}
}

// callPrimary runs a selected external call through runPrimary and feeds
// the outcome to the breaker and the sticky flag.
func (g *gateway) callPrimary(ctx context.Context, op string, fn func(context.Context) error) error {
	err := g.runPrimary(ctx, op, fn)
	g.breaker.Record(err)
	if err != nil && g.sticky {
		g.stuck.Store(true)
	}
	return err
}

// runPrimary bounds an external call by the gateway timeout on a context
// detached from the caller.
func (g *gateway) runPrimary(ctx context.Context, op string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	if err := fn(callCtx); err != nil {
		g.logger.Warn("Primary vector store call failed",
			zap.String("backend", g.primary.Name()),
			zap.String("op", op),
			zap.Int("consecutive_failures", g.breaker.ConsecutiveFailures()),
			zap.String("error", logging.SanitizeError(err)))
		return fmt.Errorf("%w: %s %s: %v", apperrors.ErrUpstreamUnavailable, g.primary.Name(), op, err)
	}
	return nil
}

func (g *gateway) validate(vector []float32) error {
	if g.dimension > 0 && len(vector) != g.dimension {
		return apperrors.Validation("embedding has %d dimensions, index expects %d", len(vector), g.dimension)
	}
	return nil
}

func (g *gateway) Upsert(ctx context.Context, entry *models.VectorEntry) (*UpsertResult, error) {
	if entry == nil || entry.FileID == uuid.Nil {
		return nil, apperrors.Validation("vector entry requires a file id")
	}
	if err := g.validate(entry.Embedding); err != nil {
		return nil, err
	}
	ns := entry.Namespace
	if ns == "" {
		ns = models.NamespaceText
	}

	sel := g.selectBackend()
	if sel.external {
		var id string
		err := g.callPrimary(ctx, "upsert", func(ctx context.Context) error {
			var err error
			id, err = g.primary.Upsert(ctx, ns, entry)
			return err
		})
		if err == nil {
			return &UpsertResult{ID: id, Backend: g.primary.Name()}, nil
		}
		sel = selection{store: g.memory, degraded: true}
	}

	id, err := g.memory.Upsert(ctx, ns, entry)
	if err != nil {
		return nil, fmt.Errorf("memory upsert: %w", err)
	}
	if sel.degraded {
		g.logger.Info("Vector stored in memory fallback",
			zap.String("file_id", entry.FileID.String()),
			zap.String("namespace", string(ns)))
	}
	return &UpsertResult{ID: id, Backend: BackendMemory, Degraded: sel.degraded}, nil
}

func (g *gateway) Query(ctx context.Context, vector []float32, topK int, filter models.VectorFilter, namespaces ...models.Namespace) (*QueryResult, error) {
	if err := g.validate(vector); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return &QueryResult{Backend: g.Primary()}, nil
	}
	if len(namespaces) == 0 {
		namespaces = models.AllNamespaces
	}

	sel := g.selectBackend()
	var matches []models.VectorMatch
	backend := BackendMemory

	if sel.external {
		err := g.callPrimary(ctx, "query", func(ctx context.Context) error {
			for _, ns := range namespaces {
				m, err := g.primary.Query(ctx, ns, vector, topK, filter)
				if err != nil {
					return err
				}
				matches = append(matches, m...)
			}
			return nil
		})
		if err != nil {
			matches = nil
			sel = selection{store: g.memory, degraded: true}
		} else {
			backend = g.primary.Name()
		}
	}

	// Memory is always consulted: it is the only store on the fallback path and
	// holds degraded writes that the primary never saw on the normal path.
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		seen[string(m.Namespace)+"/"+m.ID] = true
	}
	for _, ns := range namespaces {
		m, err := g.memory.Query(ctx, ns, vector, topK, filter)
		if err != nil {
			return nil, fmt.Errorf("memory query: %w", err)
		}
		for _, match := range m {
			if !seen[string(match.Namespace)+"/"+match.ID] {
				matches = append(matches, match)
			}
		}
	}

	SortByScore(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return &QueryResult{Matches: matches, Backend: backend, Degraded: sel.degraded}, nil
}

func (g *gateway) Delete(ctx context.Context, fileID uuid.UUID) error {
	var errs []error
	for _, ns := range models.AllNamespaces {
		if err := g.memory.Delete(ctx, ns, fileID); err != nil {
			errs = append(errs, err)
		}
	}

	if g.primary != nil {
		// Deletes bypass selection and always try the primary, so their outcome
		// is kept out of the breaker and the sticky flag.
		err := g.runPrimary(ctx, "delete", func(ctx context.Context) error {
			for _, ns := range models.AllNamespaces {
				if err := g.primary.Delete(ctx, ns, fileID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
