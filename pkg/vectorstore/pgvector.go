package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/ekaya-inc/evidence-engine/pkg/database"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

// PgVectorStore keeps embeddings in the evidence_vectors table using the
// pgvector extension.
type PgVectorStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PgVectorStore)(nil)

// NewPgVectorStore creates a store over an existing pool.
func NewPgVectorStore(pool *pgxpool.Pool) *PgVectorStore {
	return &PgVectorStore{pool: pool}
}

func (s *PgVectorStore) Name() string { return BackendPgVector }

func (s *PgVectorStore) Upsert(ctx context.Context, ns models.Namespace, entry *models.VectorEntry) (string, error) {
	id := entry.ID
	if id == "" {
		id = EntryID(entry.FileID)
	}

	md := entryMetadata(entry)
	mdJSON, err := json.Marshal(md)
	if err != nil {
		return "", fmt.Errorf("marshal vector metadata: %w", err)
	}
	tags := metaStrings(md, models.VectorMetaTags)
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO evidence_vectors (id, namespace, file_id, embedding, text, metadata, category, location, tags)
		VALUES ($1, $2, $3, $4::vector, $5, $6, $7, $8, $9)
		ON CONFLICT (namespace, id) DO UPDATE SET
			file_id = EXCLUDED.file_id,
			embedding = EXCLUDED.embedding,
			text = EXCLUDED.text,
			metadata = EXCLUDED.metadata,
			category = EXCLUDED.category,
			location = EXCLUDED.location,
			tags = EXCLUDED.tags`

	_, err = s.pool.Exec(ctx, query,
		id, string(ns), entry.FileID, pgvector.NewVector(entry.Embedding), entry.Text, mdJSON,
		metaString(md, models.VectorMetaCategory), metaString(md, models.VectorMetaLocation), tags)
	if err != nil {
		return "", fmt.Errorf("failed to upsert vector: %w", err)
	}
	return id, nil
}

func (s *PgVectorStore) Query(ctx context.Context, ns models.Namespace, vector []float32, topK int, filter models.VectorFilter) ([]models.VectorMatch, error) {
	var location string
	if filter.Location != "" {
		location = database.LikePattern(filter.Location)
	}
	tags := database.LikePatterns(filter.Tags)

	query := `
		SELECT id, file_id, text, metadata, 1 - (embedding <=> $1::vector) AS similarity
		FROM evidence_vectors
		WHERE namespace = $2
		  AND ($3::text = '' OR category = $3::text)
		  AND ($4::text = '' OR location ILIKE $4::text)
		  AND (cardinality($5::text[]) = 0 OR EXISTS (
		        SELECT 1 FROM unnest(tags) AS t(tag) WHERE t.tag ILIKE ANY($5::text[])))
		ORDER BY embedding <=> $1::vector, created_at
		LIMIT $6`

	rows, err := s.pool.Query(ctx, query,
		pgvector.NewVector(vector), string(ns), filter.Category, location, tags, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var matches []models.VectorMatch
	for rows.Next() {
		var (
			id         string
			fileID     uuid.UUID
			text       string
			mdJSON     []byte
			similarity float64
		)
		if err := rows.Scan(&id, &fileID, &text, &mdJSON, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan vector: %w", err)
		}
		var md map[string]any
		if len(mdJSON) > 0 {
			if err := json.Unmarshal(mdJSON, &md); err != nil {
				return nil, fmt.Errorf("failed to unmarshal vector metadata: %w", err)
			}
		}
		matches = append(matches, models.VectorMatch{
			ID:        id,
			FileID:    fileID,
			Namespace: ns,
			Score:     unitScore(similarity),
			Text:      text,
			Metadata:  md,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vectors: %w", err)
	}
	return matches, nil
}

func (s *PgVectorStore) Delete(ctx context.Context, ns models.Namespace, fileID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM evidence_vectors WHERE namespace = $1 AND file_id = $2`, string(ns), fileID)
	if err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}
