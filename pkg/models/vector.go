package models

import "github.com/google/uuid"

// Namespace partitions the vector index by content class.
type Namespace string

const (
	NamespaceText  Namespace = "text"
	NamespaceImage Namespace = "image"
)

// AllNamespaces lists every namespace, in query order.
var AllNamespaces = []Namespace{NamespaceText, NamespaceImage}

// VectorEntry is one embedding stored in the similarity index.
// FileID always references an EvidenceRecord created in the same ingestion.
type VectorEntry struct {
	ID        string         `json:"id"`
	FileID    uuid.UUID      `json:"fileId"`
	Namespace Namespace      `json:"namespace"`
	Embedding []float32      `json:"-"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// VectorMatch is a single similarity query hit.
type VectorMatch struct {
	ID        string         `json:"id"`
	FileID    uuid.UUID      `json:"fileId"`
	Namespace Namespace      `json:"namespace"`
	Score     float64        `json:"score"`
	Text      string         `json:"text,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// VectorFilter is the part of an EvidenceFilter a backend may push down.
// Backends ignore constraints they cannot express; the retrieval engine
// re-applies the full filter afterwards.
type VectorFilter struct {
	Category string
	Location string
	Tags     []string
}

// Metadata keys stored alongside vectors for pushdown filtering.
const (
	VectorMetaFileID   = "fileId"
	VectorMetaCategory = "category"
	VectorMetaLocation = "location"
	VectorMetaTags     = "tags"
)
