// Package models contains domain types for evidence-engine.
package models

import "context"

// ProvenanceSource represents which surface a request arrived through.
type ProvenanceSource string

const (
	SourceHTTP ProvenanceSource = "http"
	SourceMCP  ProvenanceSource = "mcp"
	SourceCLI  ProvenanceSource = "cli"
)

// String returns the string representation of a ProvenanceSource.
func (s ProvenanceSource) String() string {
	return string(s)
}

// Provenance carries caller information through a request so audit entries
// can record where an action came from.
type Provenance struct {
	Source        ProvenanceSource
	CallerAddress string
	ClientAgent   string
}

type provenanceKey struct{}

// WithProvenance returns a new context with provenance information attached.
func WithProvenance(ctx context.Context, p Provenance) context.Context {
	return context.WithValue(ctx, provenanceKey{}, p)
}

// GetProvenance retrieves provenance information from the context.
// Returns the provenance and true if present, otherwise a zero value and false.
func GetProvenance(ctx context.Context) (Provenance, bool) {
	p, ok := ctx.Value(provenanceKey{}).(Provenance)
	return p, ok
}
