package vectorstore

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/evidence-engine/pkg/config"
	"github.com/ekaya-inc/evidence-engine/pkg/retry"
)

// NewPrimaryStore builds the configured external backend. It returns a nil
// Store when the memory backend is configured.
func NewPrimaryStore(cfg config.VectorStoreConfig, pool *pgxpool.Pool) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return nil, nil
	case BackendPinecone:
		s, err := NewPineconeStore(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendPgVector:
		if pool == nil {
			return nil, errors.New("pgvector backend requires a database connection")
		}
		return NewPgVectorStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.Backend)
	}
}

// GatewayOptionsFromConfig derives gateway options from configuration.
func GatewayOptionsFromConfig(cfg config.VectorStoreConfig, dimension int) GatewayOptions {
	return GatewayOptions{
		Dimension:      dimension,
		Timeout:        cfg.Timeout,
		StickyFallback: cfg.StickyFallback,
		Breaker:        retry.DefaultCircuitBreakerConfig("vector store " + cfg.Backend),
	}
}
