package services

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// maxTags bounds how many tags one record may carry.
const maxTags = 32

func cleanTag(t string) string {
	return strings.ToLower(strings.Join(strings.Fields(t), " "))
}

// NormalizeTags prepares submitted tags for storage: lower-cased and trimmed,
// empties dropped, first-seen order kept. Tags are stored as written;
// plural and singular spellings ("banks", "bank") count as one tag and the
// first one submitted wins.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = cleanTag(t)
		if t == "" {
			continue
		}
		key := inflection.Singular(t)
		if key == "" {
			key = t
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
		if len(out) == maxTags {
			break
		}
	}
	return out
}

// NormalizeTagFilter prepares filter tags for the any-substring match. Terms
// are lower-cased, trimmed and deduplicated but otherwise left alone, so
// "data" still matches "data breach".
func NormalizeTagFilter(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = cleanTag(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
