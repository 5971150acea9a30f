package services

import (
	"github.com/ekaya-inc/evidence-engine/pkg/logging"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
	"github.com/ekaya-inc/evidence-engine/pkg/redact"
)

// DefaultPreviewLength is the number of runes of full text shown in
// listings and public search results.
const DefaultPreviewLength = 200

// headRunes returns at most the first n runes of s.
func headRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// displayRecord prepares a stored record for a human: every free-text field
// is redacted, then full text is cut to a preview unless detail is set.
// Redacting first keeps a cut from leaving half of an address unmatched.
func displayRecord(rec *models.EvidenceRecord, detail bool, previewLength int) *models.EvidenceRecord {
	out := redact.Record(rec)
	if !detail {
		out.FullText = logging.TruncateString(out.FullText, previewLength)
	}
	return out
}
