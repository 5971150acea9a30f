package redact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

func TestText_Scenario(t *testing.T) {
	out := Text("Contact jane@example.com at 555-123-4567")

	assert.Equal(t, "Contact [EMAIL_REDACTED] at [PHONE_REDACTED]", out)
	assert.NotContains(t, out, "jane@example.com")
	assert.NotContains(t, out, "555-123-4567")
}

func TestText_Categories(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"ssn", "SSN 123-45-6789 on file", "SSN [SSN_REDACTED] on file"},
		{"phone parens", "call (555) 123-4567 now", "call [PHONE_REDACTED] now"},
		{"phone dotted with country", "ring +1 555.123.4567", "ring [PHONE_REDACTED]"},
		{"phone international", "dial +44 20 7946 0958 today", "dial [PHONE_REDACTED] today"},
		{"address", "lives at 742 Evergreen Terrace, Springfield", "lives at [ADDRESS_REDACTED], Springfield"},
		{"address abbreviated", "seen near 10 Downing St. yesterday", "seen near [ADDRESS_REDACTED] yesterday"},
		{"no pii", "Vehicle was red, year 2019.", "Vehicle was red, year 2019."},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.input))
		})
	}
}

func TestText_IdempotentAndTotal(t *testing.T) {
	corpus := []string{
		"Contact jane@example.com at 555-123-4567",
		"a.b+c@mail.co.uk, 123-45-6789 and (212) 555-0199 at 1600 Pennsylvania Avenue",
		"emails: x@y.io,z@w.org; phones 555 123 4567 / 555.765.4321",
		"+49 30 1234 5678 called 42 Wallaby Way about 987-65-4321",
		"nothing to see here",
	}
	for _, in := range corpus {
		once := Text(in)
		twice := Text(once)
		assert.Equal(t, once, twice, "redaction must be idempotent for %q", in)
		assert.False(t, ContainsPII(once), "redacted output still contains PII: %q", once)
		assert.NotContains(t, once, "@")
	}
}

func TestRecord_DoesNotMutateOriginal(t *testing.T) {
	rec := &models.EvidenceRecord{
		Summary:     "Victim jane@example.com reported fraud",
		FullText:    "Call 555-123-4567 for details",
		Description: "submitted from 12 Oak Street",
		Metadata:    map[string]any{"note": "ssn 123-45-6789", "sizeBytes": 42},
	}

	out := Record(rec)

	assert.Equal(t, "Victim [EMAIL_REDACTED] reported fraud", out.Summary)
	assert.Equal(t, "Call [PHONE_REDACTED] for details", out.FullText)
	assert.Equal(t, "submitted from [ADDRESS_REDACTED]", out.Description)
	assert.Equal(t, "ssn [SSN_REDACTED]", out.Metadata["note"])
	assert.Equal(t, 42, out.Metadata["sizeBytes"])

	assert.True(t, strings.Contains(rec.FullText, "555-123-4567"), "stored original must be kept")
	assert.Nil(t, Record(nil))
}
