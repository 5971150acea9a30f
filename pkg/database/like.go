package database

import "strings"

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// LikePattern returns a substring (I)LIKE pattern for s with the LIKE
// wildcards in s escaped, for use with Postgres' default escape character.
func LikePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// LikePatterns applies LikePattern to each value.
func LikePatterns(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = LikePattern(v)
	}
	return out
}
