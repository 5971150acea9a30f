// Package screening flags free-text input that looks like an injection
// payload before it reaches a query path.
package screening

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// Detection kinds.
const (
	KindSQLi = "sqli"
	KindXSS  = "xss"
)

// Finding describes one flagged input.
type Finding struct {
	Field       string // Name of the input that failed the check
	Value       string // The value that was checked
	Kind        string // KindSQLi or KindXSS
	Fingerprint string // libinjection fingerprint, SQLi only
}

// Check runs libinjection's XSS and SQLi detectors over value.
//
// Returns nil if nothing is detected. Ordinary prose, including apostrophes
// and SQL keywords used as words, passes.
//
// Example:
//
//	Check("query", "stolen laptop near O'Brien street") // nil
//	Check("query", "' OR 1=1--")                        // Kind == KindSQLi
//	Check("query", "<script>alert(1)</script>")         // Kind == KindXSS
func Check(field, value string) *Finding {
	if value == "" {
		return nil
	}
	if libinjection.IsXSS(value) {
		return &Finding{Field: field, Value: value, Kind: KindXSS}
	}
	if isSQLi, fingerprint := libinjection.IsSQLi(value); isSQLi {
		return &Finding{Field: field, Value: value, Kind: KindSQLi, Fingerprint: string(fingerprint)}
	}
	return nil
}

// CheckAll checks every named value and returns the findings, if any.
func CheckAll(values map[string]string) []*Finding {
	var findings []*Finding
	for field, value := range values {
		if f := Check(field, value); f != nil {
			findings = append(findings, f)
		}
	}
	return findings
}
