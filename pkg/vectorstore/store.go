// Package vectorstore stores and queries evidence embeddings. A Gateway picks
// an external index or the in-process fallback independently for every call.
package vectorstore

import (
	"context"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendPinecone = "pinecone"
	BackendPgVector = "pgvector"
)

// Store is the capability every vector backend provides.
// Scores are similarities mapped into [0,1], higher is better.
type Store interface {
	Name() string
	Upsert(ctx context.Context, ns models.Namespace, entry *models.VectorEntry) (string, error)
	Query(ctx context.Context, ns models.Namespace, vector []float32, topK int, filter models.VectorFilter) ([]models.VectorMatch, error)
	// Delete removes every entry for fileID in ns. Deleting an unknown fileID is a no-op.
	Delete(ctx context.Context, ns models.Namespace, fileID uuid.UUID) error
}

// EntryID is the deterministic vector id for a file. One file yields one vector
// per namespace, so deletes can address vectors by id on every backend.
func EntryID(fileID uuid.UUID) string {
	return fileID.String()
}

// cosine returns the cosine similarity of a and b, 0 when either is zero.
func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// unitScore maps a cosine similarity in [-1,1] to [0,1].
func unitScore(cos float64) float64 {
	s := (cos + 1) / 2
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

func entryMetadata(entry *models.VectorEntry) map[string]any {
	md := make(map[string]any, len(entry.Metadata)+1)
	for k, v := range entry.Metadata {
		md[k] = v
	}
	md[models.VectorMetaFileID] = entry.FileID.String()
	return md
}

func metaString(md map[string]any, key string) string {
	if v, ok := md[key].(string); ok {
		return v
	}
	return ""
}

func metaStrings(md map[string]any, key string) []string {
	switch v := md[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// matchesFilter applies the pushdown filter to stored metadata with the same
// semantics the catalog uses.
func matchesFilter(md map[string]any, f models.VectorFilter) bool {
	if f.Category != "" && metaString(md, models.VectorMetaCategory) != f.Category {
		return false
	}
	if f.Location != "" && !strings.Contains(strings.ToLower(metaString(md, models.VectorMetaLocation)), strings.ToLower(f.Location)) {
		return false
	}
	if len(f.Tags) > 0 {
		tags := metaStrings(md, models.VectorMetaTags)
		for _, want := range f.Tags {
			for _, have := range tags {
				if strings.Contains(strings.ToLower(have), strings.ToLower(want)) {
					return true
				}
			}
		}
		return false
	}
	return true
}
