package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

// MemoryStore is the process-local fallback index. It scans linearly and is
// safe for concurrent use. Contents are lost on restart.
type MemoryStore struct {
	mu         sync.RWMutex
	namespaces map[models.Namespace]*memoryNamespace
	seq        uint64
}

type memoryEntry struct {
	entry models.VectorEntry
	seq   uint64
}

type memoryNamespace struct {
	byID map[string]*memoryEntry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{namespaces: make(map[models.Namespace]*memoryNamespace)}
}

func (s *MemoryStore) Name() string { return BackendMemory }

// Len returns the number of entries across all namespaces.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ns := range s.namespaces {
		n += len(ns.byID)
	}
	return n
}

func (s *MemoryStore) Upsert(_ context.Context, ns models.Namespace, entry *models.VectorEntry) (string, error) {
	if entry == nil {
		return "", fmt.Errorf("nil vector entry")
	}
	id := entry.ID
	if id == "" {
		id = EntryID(entry.FileID)
	}

	stored := *entry
	stored.ID = id
	stored.Namespace = ns
	stored.Embedding = append([]float32(nil), entry.Embedding...)
	stored.Metadata = entryMetadata(entry)

	s.mu.Lock()
	defer s.mu.Unlock()

	space, ok := s.namespaces[ns]
	if !ok {
		space = &memoryNamespace{byID: make(map[string]*memoryEntry)}
		s.namespaces[ns] = space
	}
	if existing, ok := space.byID[id]; ok {
		existing.entry = stored
		return id, nil
	}
	s.seq++
	space.byID[id] = &memoryEntry{entry: stored, seq: s.seq}
	return id, nil
}

func (s *MemoryStore) Query(_ context.Context, ns models.Namespace, vector []float32, topK int, filter models.VectorFilter) ([]models.VectorMatch, error) {
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	space, ok := s.namespaces[ns]
	if !ok {
		s.mu.RUnlock()
		return nil, nil
	}
	candidates := make([]*memoryEntry, 0, len(space.byID))
	for _, e := range space.byID {
		if matchesFilter(e.entry.Metadata, filter) {
			candidates = append(candidates, e)
		}
	}
	s.mu.RUnlock()

	// Insertion order first so the score sort below has a stable tiebreak.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].seq < candidates[j].seq })

	matches := make([]models.VectorMatch, len(candidates))
	for i, e := range candidates {
		md := make(map[string]any, len(e.entry.Metadata))
		for k, v := range e.entry.Metadata {
			md[k] = v
		}
		matches[i] = models.VectorMatch{
			ID:        e.entry.ID,
			FileID:    e.entry.FileID,
			Namespace: ns,
			Score:     unitScore(cosine(vector, e.entry.Embedding)),
			Text:      e.entry.Text,
			Metadata:  md,
		}
	}
	SortByScore(matches)

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *MemoryStore) Delete(_ context.Context, ns models.Namespace, fileID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	space, ok := s.namespaces[ns]
	if !ok {
		return nil
	}
	for id, e := range space.byID {
		if e.entry.FileID == fileID {
			delete(space.byID, id)
		}
	}
	return nil
}

// SortByScore orders matches by descending score, keeping the existing order
// for equal scores.
func SortByScore(matches []models.VectorMatch) {
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
}
