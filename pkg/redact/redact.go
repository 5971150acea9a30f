// Package redact scrubs personally identifying substrings from evidence text
// before it is shown to a human. Stored records keep the original text.
package redact

import (
	"regexp"

	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

// Replacement tokens. None of them contains a digit or "@", so no pattern
// can match inside a token and redaction is idempotent.
const (
	EmailToken   = "[EMAIL_REDACTED]"
	SSNToken     = "[SSN_REDACTED]"
	PhoneToken   = "[PHONE_REDACTED]"
	AddressToken = "[ADDRESS_REDACTED]"
)

type rule struct {
	pattern *regexp.Regexp
	token   string
}

// Order matters: SSNs before phones so 3-2-4 digit groups are labelled as
// SSNs, US phones before international ones.
var rules = []rule{
	{regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), EmailToken},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), SSNToken},
	{regexp.MustCompile(`(?:\+?1[-.\s]?)?(?:\(\d{3}\)|\b\d{3})[-.\s]?\d{3}[-.\s]?\d{4}\b`), PhoneToken},
	{regexp.MustCompile(`\+\d{1,3}(?:[\s.-]?\d{2,4}){2,4}\b`), PhoneToken},
	{regexp.MustCompile(`(?i)\b\d{1,6}\s+(?:[A-Za-z0-9.'-]+\s+){0,4}(?:street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|court|ct|way|place|pl|terrace|ter|circle|cir|highway|hwy|parkway|pkwy)\b\.?`), AddressToken},
}

// Text replaces email addresses, SSN-style numbers, phone numbers and street
// addresses in s with fixed tokens.
func Text(s string) string {
	if s == "" {
		return s
	}
	for _, r := range rules {
		s = r.pattern.ReplaceAllLiteralString(s, r.token)
	}
	return s
}

// ContainsPII reports whether any redaction pattern matches s.
func ContainsPII(s string) bool {
	for _, r := range rules {
		if r.pattern.MatchString(s) {
			return true
		}
	}
	return false
}

// Record returns a copy of rec with every free-text field redacted.
// The input is not modified.
func Record(rec *models.EvidenceRecord) *models.EvidenceRecord {
	if rec == nil {
		return nil
	}
	out := rec.Clone()
	out.Title = Text(out.Title)
	out.Description = Text(out.Description)
	out.Summary = Text(out.Summary)
	out.FullText = Text(out.FullText)
	for k, v := range out.Metadata {
		if s, ok := v.(string); ok {
			out.Metadata[k] = Text(s)
		}
	}
	return out
}
