package repositories

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ekaya-inc/evidence-engine/pkg/apperrors"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

// memoryEvidenceRepository keeps the catalog in process memory.
// Used when no database is configured; contents are lost on restart.
type memoryEvidenceRepository struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]*models.EvidenceRecord
	byFileID map[uuid.UUID]uuid.UUID
}

// NewMemoryEvidenceRepository creates an in-memory EvidenceRepository.
func NewMemoryEvidenceRepository() EvidenceRepository {
	return &memoryEvidenceRepository{
		byID:     make(map[uuid.UUID]*models.EvidenceRecord),
		byFileID: make(map[uuid.UUID]uuid.UUID),
	}
}

var _ EvidenceRepository = (*memoryEvidenceRepository)(nil)

func (r *memoryEvidenceRepository) Create(ctx context.Context, rec *models.EvidenceRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prepareRecord(rec)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[rec.ID]; exists {
		return fmt.Errorf("failed to create evidence record: duplicate id %s", rec.ID)
	}
	if _, exists := r.byFileID[rec.FileID]; exists {
		return fmt.Errorf("failed to create evidence record: duplicate file id %s", rec.FileID)
	}
	r.byID[rec.ID] = rec.Clone()
	r.byFileID[rec.FileID] = rec.ID
	return nil
}

func (r *memoryEvidenceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.EvidenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("evidence %s: %w", id, apperrors.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (r *memoryEvidenceRepository) GetByFileIDs(ctx context.Context, fileIDs []uuid.UUID) (map[uuid.UUID]*models.EvidenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[uuid.UUID]*models.EvidenceRecord, len(fileIDs))
	for _, fid := range fileIDs {
		if id, ok := r.byFileID[fid]; ok {
			result[fid] = r.byID[id].Clone()
		}
	}
	return result, nil
}

func (r *memoryEvidenceRepository) List(ctx context.Context, filter models.EvidenceFilter, offset, limit int) ([]*models.EvidenceRecord, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	matches := r.matching(func(rec *models.EvidenceRecord) bool { return filter.Matches(rec) })

	total := len(matches)
	if offset >= total {
		return []*models.EvidenceRecord{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matches[offset:end], total, nil
}

func (r *memoryEvidenceRepository) SearchText(ctx context.Context, query string, filter models.EvidenceFilter, limit int) ([]*models.EvidenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := SearchTerms(query)
	if len(terms) == 0 {
		return []*models.EvidenceRecord{}, nil
	}

	matches := r.matching(func(rec *models.EvidenceRecord) bool {
		return filter.Matches(rec) && containsAllTerms(rec, terms)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (r *memoryEvidenceRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.EvidenceStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("evidence %s: %w", id, apperrors.ErrNotFound)
	}
	rec.Status = status
	return nil
}

func (r *memoryEvidenceRepository) DeleteByFileID(ctx context.Context, fileID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byFileID[fileID]; ok {
		delete(r.byID, id)
		delete(r.byFileID, fileID)
	}
	return nil
}

// matching returns copies of the records accepted by keep, newest first.
func (r *memoryEvidenceRepository) matching(keep func(*models.EvidenceRecord) bool) []*models.EvidenceRecord {
	r.mu.RLock()
	out := make([]*models.EvidenceRecord, 0, len(r.byID))
	for _, rec := range r.byID {
		if keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadDate.Equal(out[j].UploadDate) {
			return out[i].UploadDate.After(out[j].UploadDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func containsAllTerms(rec *models.EvidenceRecord, terms []string) bool {
	haystack := strings.ToLower(strings.Join([]string{
		rec.Title, rec.Description, rec.Summary, rec.FullText, strings.Join(rec.Tags, " "),
	}, "\n"))
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}
