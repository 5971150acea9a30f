package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EvidenceStatus is the only mutable attribute of an EvidenceRecord.
type EvidenceStatus string

const (
	EvidenceStatusActive     EvidenceStatus = "active"
	EvidenceStatusProcessing EvidenceStatus = "processing"
	EvidenceStatusReviewed   EvidenceStatus = "reviewed"
	EvidenceStatusClosed     EvidenceStatus = "closed"
)

// IsValid returns true if s is a known status.
func (s EvidenceStatus) IsValid() bool {
	switch s {
	case EvidenceStatusActive, EvidenceStatusProcessing, EvidenceStatusReviewed, EvidenceStatusClosed:
		return true
	}
	return false
}

// CanTransitionTo reports whether a record in status s may move to next.
// Records move forward through active → processing → reviewed → closed and
// may be closed from any open status. Closed is terminal.
func (s EvidenceStatus) CanTransitionTo(next EvidenceStatus) bool {
	if !next.IsValid() || s == EvidenceStatusClosed || s == next {
		return false
	}
	if next == EvidenceStatusClosed {
		return true
	}
	switch s {
	case EvidenceStatusActive:
		return next == EvidenceStatusProcessing
	case EvidenceStatusProcessing:
		return next == EvidenceStatusReviewed
	}
	return false
}

// Metadata keys written by ingestion.
const (
	MetaTitle             = "title"
	MetaDescription       = "description"
	MetaFilename          = "filename"
	MetaMediaType         = "mediaType"
	MetaSizeBytes         = "sizeBytes"
	MetaEmbeddingDegraded = "embeddingDegraded"
	MetaSummaryDegraded   = "summaryDegraded"
	MetaVectorBackend     = "vectorBackend"
	MetaNamespace         = "namespace"
	// MetaContainsPII flags full text that redaction will alter on display.
	MetaContainsPII       = "containsPII"
)

// EvidenceRecord is the catalog entry for one submitted piece of evidence.
// Everything except Status is fixed at ingestion.
type EvidenceRecord struct {
	ID          uuid.UUID      `json:"id"`
	FileID      uuid.UUID      `json:"fileId"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Filename    string         `json:"filename"`
	MediaType   string         `json:"mediaType"`
	Summary     string         `json:"summary"`
	FullText    string         `json:"fullText"`
	UploadDate  time.Time      `json:"uploadDate"`
	Category    string         `json:"category"`
	Location    string         `json:"location,omitempty"`
	Tags        []string       `json:"tags"`
	Confidence  float64        `json:"confidence"`
	Status      EvidenceStatus `json:"status"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep-enough copy for display transforms: slices and the
// metadata map are copied so callers can mutate the result freely.
func (r *EvidenceRecord) Clone() *EvidenceRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Tags = append([]string(nil), r.Tags...)
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// EvidenceFilter narrows catalog listings and search results.
// Zero values mean "no constraint".
type EvidenceFilter struct {
	Category string     `json:"category,omitempty"`
	Location string     `json:"location,omitempty"`
	DateFrom *time.Time `json:"dateFrom,omitempty"`
	DateTo   *time.Time `json:"dateTo,omitempty"`
	Tags     []string   `json:"tags,omitempty"`
}

// Matches applies every constraint of f to rec: category exact, location
// case-insensitive substring, upload date within [DateFrom, DateTo]
// inclusive, and at least one filter tag contained in one of the record tags.
func (f EvidenceFilter) Matches(rec *EvidenceRecord) bool {
	if rec == nil {
		return false
	}
	if f.Category != "" && rec.Category != f.Category {
		return false
	}
	if f.Location != "" && !containsFold(rec.Location, f.Location) {
		return false
	}
	if f.DateFrom != nil && rec.UploadDate.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && rec.UploadDate.After(*f.DateTo) {
		return false
	}
	if len(f.Tags) > 0 && !anyTagMatches(rec.Tags, f.Tags) {
		return false
	}
	return true
}

// ParseFilterDate accepts RFC 3339 timestamps or YYYY-MM-DD dates. A bare
// date used as an upper bound covers the whole day. Empty input yields nil.
func ParseFilterDate(s string, endOfDay bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// SplitTags splits comma-separated tag lists, dropping blanks.
func SplitTags(values ...string) []string {
	var tags []string
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}

func anyTagMatches(recordTags, wanted []string) bool {
	for _, w := range wanted {
		if w == "" {
			continue
		}
		for _, t := range recordTags {
			if containsFold(t, w) {
				return true
			}
		}
	}
	return false
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// EvidencePage is one page of a catalog listing.
type EvidencePage struct {
	Records []*EvidenceRecord `json:"records"`
	Total   int               `json:"total"`
	Page    int               `json:"page"`
	Limit   int               `json:"limit"`
	HasNext bool              `json:"hasNext"`
	HasPrev bool              `json:"hasPrev"`
}
