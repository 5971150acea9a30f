package handlers

import (
	"net/http"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/evidence-engine/pkg/models"
	"github.com/ekaya-inc/evidence-engine/pkg/services"
)

func seedSearchCorpus(t *testing.T, f *apiFixture) {
	t.Helper()
	f.seed(t, "Call log", "telecom", "Outgoing calls from the seized handset were made at night. "+
		"The handset was recovered from the suspect's vehicle along with two SIM cards and a charger. "+
		"Call detail records show repeated contact with a single prepaid number over three weeks.", "phone")
	f.seed(t, "Bank statement", "financial", "Wire transfers to an offshore account in March.")
	f.seed(t, "Router config", "device", "The office router firmware was replaced.")
}

func TestSearchHandler_Public_ReturnsPreviews(t *testing.T) {
	f := newAPIFixture(t)
	seedSearchCorpus(t, f)

	rec := f.doJSON(t, http.MethodPost, "/search", "", SearchRequest{Query: "seized handset calls", TopK: intPtr(2)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp services.SearchResponse
	decodeEnvelope(t, rec, &resp)
	assert.Equal(t, services.SearchModeSemantic, resp.Mode)
	assert.Equal(t, "memory", resp.Backend)
	assert.False(t, resp.Degraded)
	require.NotEmpty(t, resp.Results)
	assert.LessOrEqual(t, len(resp.Results), 2)
	for _, r := range resp.Results {
		assert.LessOrEqual(t, utf8.RuneCountInString(r.Record.FullText), services.DefaultPreviewLength+3)
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
	assert.Empty(t, f.auditTrail(t), "public search is not audited")
}

func TestSearchHandler_Public_TopKDefaultOnlyWhenAbsent(t *testing.T) {
	f := newAPIFixture(t)
	seedSearchCorpus(t, f)

	count := func(payload any) int {
		rec := f.doJSON(t, http.MethodPost, "/search", "", payload)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp services.SearchResponse
		decodeEnvelope(t, rec, &resp)
		return len(resp.Results)
	}

	assert.Equal(t, 3, count(map[string]any{"query": "handset"}))
	assert.Equal(t, 1, count(map[string]any{"query": "handset", "topK": 0}))
	assert.Equal(t, 1, count(map[string]any{"query": "handset", "topK": -7}))
	assert.Equal(t, 3, count(map[string]any{"query": "handset", "topK": 500}))
}

func TestSearchHandler_Public_Filters(t *testing.T) {
	f := newAPIFixture(t)
	seedSearchCorpus(t, f)

	rec := f.doJSON(t, http.MethodPost, "/search", "", SearchRequest{Query: "transfers", Category: "Financial"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp services.SearchResponse
	decodeEnvelope(t, rec, &resp)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.Equal(t, "financial", r.Record.Category)
	}
}

func TestSearchHandler_Rejections(t *testing.T) {
	tests := []struct {
		name string
		req  SearchRequest
		code string
	}{
		{"empty query", SearchRequest{Query: "   "}, "validation_error"},
		{"injection payload", SearchRequest{Query: "x' OR 1=1 --"}, "validation_error"},
		{"bad date", SearchRequest{Query: "calls", DateFrom: "31/12/2024"}, "validation_error"},
		{"inverted range", SearchRequest{Query: "calls", DateFrom: "2025-02-01", DateTo: "2025-01-01"}, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			rec := f.doJSON(t, http.MethodPost, "/search", "", tt.req)

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeError(t, rec))
		})
	}
}

func TestSearchHandler_Authenticated(t *testing.T) {
	f := newAPIFixture(t)
	seedSearchCorpus(t, f)
	req := SearchRequest{Query: "seized handset calls"}

	anon := f.doJSON(t, http.MethodPost, "/search/authenticated", "", req)
	assert.Equal(t, http.StatusUnauthorized, anon.Code)

	rec := f.doJSON(t, http.MethodPost, "/search/authenticated", f.login(t, investigatorEmail), req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp services.SearchResponse
	decodeEnvelope(t, rec, &resp)
	require.NotEmpty(t, resp.Results)

	var longest int
	for _, r := range resp.Results {
		longest = max(longest, utf8.RuneCountInString(r.Record.FullText))
	}
	assert.Greater(t, longest, services.DefaultPreviewLength, "authenticated search returns full text")

	var audited *models.AuditLogEntry
	for _, e := range f.auditTrail(t) {
		if e.Action == models.AuditActionSearchEvidence && e.Outcome == models.AuditOutcomeSuccess {
			audited = e
		}
	}
	require.NotNil(t, audited)
	assert.Equal(t, "off-inv", audited.OfficialID)
}
