package screening

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		wantKind string // empty means clean
	}{
		// Search phrases officials actually type
		{name: "plain search", value: "stolen laptop", wantKind: ""},
		{name: "apostrophe in name", value: "O'Brien", wantKind: ""},
		{name: "date", value: "2024-01-15", wantKind: ""},
		{name: "email", value: "user@example.com", wantKind: ""},
		{name: "dashes in prose", value: "phishing -- reported twice", wantKind: ""},
		{name: "sql keyword as word", value: "SELECT the best option from the menu", wantKind: ""},
		{name: "empty", value: "", wantKind: ""},

		// SQL injection
		{name: "quote or", value: "' OR '1'='1", wantKind: KindSQLi},
		{name: "drop table", value: "'; DROP TABLE users--", wantKind: KindSQLi},
		{name: "union select", value: "1 UNION SELECT * FROM passwords", wantKind: KindSQLi},
		{name: "comment", value: "admin'--", wantKind: KindSQLi},
		{name: "time based", value: "1' AND SLEEP(5)--", wantKind: KindSQLi},

		// XSS
		{name: "script tag", value: "<script>alert(1)</script>", wantKind: KindXSS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Check("query", tt.value)
			if tt.wantKind == "" {
				assert.Nil(t, f)
				return
			}
			require.NotNil(t, f)
			assert.Equal(t, tt.wantKind, f.Kind)
			assert.Equal(t, "query", f.Field)
			assert.Equal(t, tt.value, f.Value)
			if tt.wantKind == KindSQLi {
				assert.NotEmpty(t, f.Fingerprint)
			}
		})
	}
}

func TestCheckAll(t *testing.T) {
	findings := CheckAll(map[string]string{
		"query":    "' OR 1=1--",
		"location": "Pune",
		"category": "fraud",
	})
	require.Len(t, findings, 1)
	assert.Equal(t, "query", findings[0].Field)

	assert.Empty(t, CheckAll(map[string]string{"query": "bank fraud"}))
}
