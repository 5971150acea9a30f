package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/evidence-engine/pkg/apperrors"
	"github.com/ekaya-inc/evidence-engine/pkg/database"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

// EvidenceRepository provides data access for the evidence catalog.
// Records are append-only apart from their status.
type EvidenceRepository interface {
	// Create inserts a new record. ID and UploadDate are assigned when zero.
	Create(ctx context.Context, rec *models.EvidenceRecord) error

	// GetByID returns the record with the given id or apperrors.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*models.EvidenceRecord, error)

	// GetByFileIDs returns the records for the given file ids, keyed by file id.
	// Unknown ids are absent from the map.
	GetByFileIDs(ctx context.Context, fileIDs []uuid.UUID) (map[uuid.UUID]*models.EvidenceRecord, error)

	// List returns one page of records matching filter, newest first, plus the
	// total number of matches.
	List(ctx context.Context, filter models.EvidenceFilter, offset, limit int) ([]*models.EvidenceRecord, int, error)

	// SearchText returns records whose text contains every term of query,
	// case-insensitively, newest first.
	SearchText(ctx context.Context, query string, filter models.EvidenceFilter, limit int) ([]*models.EvidenceRecord, error)

	// UpdateStatus sets the status of a record.
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.EvidenceStatus) error

	// DeleteByFileID removes the record for fileID. Missing records are not an error.
	DeleteByFileID(ctx context.Context, fileID uuid.UUID) error
}

type evidenceRepository struct {
	pool *pgxpool.Pool
}

// NewEvidenceRepository creates an EvidenceRepository backed by PostgreSQL.
func NewEvidenceRepository(pool *pgxpool.Pool) EvidenceRepository {
	return &evidenceRepository{pool: pool}
}

var _ EvidenceRepository = (*evidenceRepository)(nil)

const evidenceColumns = `id, file_id, title, description, filename, media_type, summary, full_text,
	upload_date, category, location, tags, confidence, status, metadata`

func (r *evidenceRepository) Create(ctx context.Context, rec *models.EvidenceRecord) error {
	prepareRecord(rec)

	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO evidence_records (` + evidenceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = r.pool.Exec(ctx, query,
		rec.ID,
		rec.FileID,
		rec.Title,
		rec.Description,
		rec.Filename,
		rec.MediaType,
		rec.Summary,
		rec.FullText,
		rec.UploadDate,
		rec.Category,
		rec.Location,
		rec.Tags,
		rec.Confidence,
		string(rec.Status),
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to create evidence record: %w", err)
	}

	return nil
}

func (r *evidenceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.EvidenceRecord, error) {
	query := `SELECT ` + evidenceColumns + ` FROM evidence_records WHERE id = $1`

	rec, err := scanEvidenceRecord(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("evidence %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *evidenceRepository) GetByFileIDs(ctx context.Context, fileIDs []uuid.UUID) (map[uuid.UUID]*models.EvidenceRecord, error) {
	result := make(map[uuid.UUID]*models.EvidenceRecord, len(fileIDs))
	if len(fileIDs) == 0 {
		return result, nil
	}

	query := `SELECT ` + evidenceColumns + ` FROM evidence_records WHERE file_id = ANY($1)`

	rows, err := r.pool.Query(ctx, query, fileIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence by file id: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanEvidenceRecord(rows)
		if err != nil {
			return nil, err
		}
		result[rec.FileID] = rec
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evidence records: %w", err)
	}

	return result, nil
}

func (r *evidenceRepository) List(ctx context.Context, filter models.EvidenceFilter, offset, limit int) ([]*models.EvidenceRecord, int, error) {
	where, args := buildEvidenceWhere(filter, nil)

	var total int
	countQuery := `SELECT COUNT(*) FROM evidence_records` + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count evidence records: %w", err)
	}
	if total == 0 || offset >= total {
		return []*models.EvidenceRecord{}, total, nil
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM evidence_records%s
		ORDER BY upload_date DESC, id
		LIMIT $%d OFFSET $%d`, evidenceColumns, where, len(args)-1, len(args))

	records, err := r.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (r *evidenceRepository) SearchText(ctx context.Context, query string, filter models.EvidenceFilter, limit int) ([]*models.EvidenceRecord, error) {
	terms := SearchTerms(query)
	if len(terms) == 0 {
		return []*models.EvidenceRecord{}, nil
	}

	where, args := buildEvidenceWhere(filter, terms)
	args = append(args, limit)
	sqlQuery := fmt.Sprintf(`SELECT %s FROM evidence_records%s
		ORDER BY upload_date DESC, id
		LIMIT $%d`, evidenceColumns, where, len(args))

	return r.queryRecords(ctx, sqlQuery, args...)
}

func (r *evidenceRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.EvidenceStatus) error {
	tag, err := r.pool.Exec(ctx, `UPDATE evidence_records SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update evidence status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("evidence %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *evidenceRepository) DeleteByFileID(ctx context.Context, fileID uuid.UUID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM evidence_records WHERE file_id = $1`, fileID); err != nil {
		return fmt.Errorf("failed to delete evidence record: %w", err)
	}
	return nil
}

func (r *evidenceRepository) queryRecords(ctx context.Context, query string, args ...any) ([]*models.EvidenceRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence records: %w", err)
	}
	defer rows.Close()

	records := []*models.EvidenceRecord{}
	for rows.Next() {
		rec, err := scanEvidenceRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evidence records: %w", err)
	}

	return records, nil
}

// buildEvidenceWhere renders filter and text terms as a WHERE clause with
// positional arguments starting at $1.
func buildEvidenceWhere(filter models.EvidenceFilter, terms []string) (string, []any) {
	var conds []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Category != "" {
		conds = append(conds, "category = "+next(filter.Category))
	}
	if filter.Location != "" {
		conds = append(conds, "location ILIKE "+next(database.LikePattern(filter.Location)))
	}
	if filter.DateFrom != nil {
		conds = append(conds, "upload_date >= "+next(*filter.DateFrom))
	}
	if filter.DateTo != nil {
		conds = append(conds, "upload_date <= "+next(*filter.DateTo))
	}
	if tags := nonEmpty(filter.Tags); len(tags) > 0 {
		conds = append(conds, "EXISTS (SELECT 1 FROM unnest(tags) AS t WHERE t ILIKE ANY("+next(database.LikePatterns(tags))+"))")
	}
	for _, term := range terms {
		p := next(database.LikePattern(term))
		conds = append(conds, fmt.Sprintf(
			"(title ILIKE %[1]s OR description ILIKE %[1]s OR summary ILIKE %[1]s OR full_text ILIKE %[1]s"+
				" OR EXISTS (SELECT 1 FROM unnest(tags) AS t WHERE t ILIKE %[1]s))", p))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// SearchTerms splits a free-text query into the terms substring search
// requires, dropping duplicates.
func SearchTerms(query string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, f := range strings.Fields(strings.ToLower(query)) {
		if !seen[f] {
			seen[f] = true
			terms = append(terms, f)
		}
	}
	return terms
}

func prepareRecord(rec *models.EvidenceRecord) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.UploadDate.IsZero() {
		rec.UploadDate = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = models.EvidenceStatusActive
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
}

func scanEvidenceRecord(row pgx.Row) (*models.EvidenceRecord, error) {
	var rec models.EvidenceRecord
	var status string
	var metadataJSON []byte

	err := row.Scan(
		&rec.ID,
		&rec.FileID,
		&rec.Title,
		&rec.Description,
		&rec.Filename,
		&rec.MediaType,
		&rec.Summary,
		&rec.FullText,
		&rec.UploadDate,
		&rec.Category,
		&rec.Location,
		&rec.Tags,
		&rec.Confidence,
		&status,
		&metadataJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan evidence record: %w", err)
	}

	rec.Status = models.EvidenceStatus(status)
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &rec, nil
}
