package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/evidence-engine/pkg/apperrors"
	"github.com/ekaya-inc/evidence-engine/pkg/audit"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
	"github.com/ekaya-inc/evidence-engine/pkg/vectorstore"
)

func TestClampTopK(t *testing.T) {
	assert.Equal(t, DefaultTopK, clampTopK(nil))
	assert.Equal(t, 1, clampTopK(intPtr(0)))
	assert.Equal(t, 1, clampTopK(intPtr(-4)))
	assert.Equal(t, 7, clampTopK(intPtr(7)))
	assert.Equal(t, MaxTopK, clampTopK(intPtr(1000)))
}

func TestRetrievalService_Search_ExplicitZeroTopKReturnsOne(t *testing.T) {
	f := newEvidenceFixture(t)
	f.ingestText(t, "laptop", "theft", "A laptop was stolen from the library.")
	f.ingestText(t, "upi", "fraud", "Money moved through UPI to an unknown account.")

	resp, err := f.retrieval.Search(context.Background(), SearchRequest{Query: "laptop", TopK: intPtr(0)})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 1)

	resp, err = f.retrieval.Search(context.Background(), SearchRequest{Query: "laptop"})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2, "an absent topK selects the default")
}

func TestRetrievalService_Search_ReturnsAtMostAvailable(t *testing.T) {
	f := newEvidenceFixture(t)
	f.ingestText(t, "laptop", "theft", "A laptop was stolen from the library.")
	f.ingestText(t, "upi", "fraud", "Money moved through UPI to an unknown account.")
	f.ingestText(t, "threat", "harassment", "Threatening messages were received at night.")

	resp, err := f.retrieval.Search(context.Background(), SearchRequest{Query: "stolen laptop", TopK: intPtr(5)})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)
	assert.Equal(t, SearchModeSemantic, resp.Mode)
	assert.False(t, resp.Degraded)
	assert.True(t, resp.EmbeddingDegraded)
	assert.Equal(t, vectorstore.BackendMemory, resp.Backend)

	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].Score, resp.Results[i].Score)
	}
	for _, r := range resp.Results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestRetrievalService_Search_IdenticalTextRanksFirst(t *testing.T) {
	f := newEvidenceFixture(t)
	f.ingestText(t, "laptop", "theft", "A laptop was stolen from the library.")
	target := f.ingestText(t, "upi", "fraud", "Money moved through UPI to an unknown account.")

	// The hash embedder maps identical input to the identical vector.
	resp, err := f.retrieval.Search(context.Background(), SearchRequest{
		Query: "upi\n\nMoney moved through UPI to an unknown account.",
		TopK:  intPtr(1),
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, target.ID, resp.Results[0].Record.ID)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-6)
	assert.Equal(t, models.NamespaceText, resp.Results[0].Namespace)
}

func TestRetrievalService_Search_PostFilters(t *testing.T) {
	f := newEvidenceFixture(t)
	f.ingestText(t, "laptop", "theft", "A laptop was stolen from the library.", "Laptops")
	f.ingestText(t, "upi", "fraud", "Money moved through UPI to an unknown account.", "bank")

	resp, err := f.retrieval.Search(context.Background(), SearchRequest{
		Query:  "anything",
		TopK:   intPtr(10),
		Filter: models.EvidenceFilter{Tags: []string{"laptop"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "laptop", resp.Results[0].Record.Title)

	resp, err = f.retrieval.Search(context.Background(), SearchRequest{
		Query:  "anything",
		Filter: models.EvidenceFilter{Category: "harassment"},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, SearchModeSemantic, resp.Mode, "an empty healthy result is not a fallback")
}

func TestRetrievalService_Search_TagFilterIsPlainSubstring(t *testing.T) {
	f := newEvidenceFixture(t)
	f.ingestText(t, "breach", "cyber", "Customer records were exfiltrated.", "data breach")
	f.ingestText(t, "hearing", "civil", "Parties met before a mediator.", "mediation")

	titles := func(filterTags ...string) []string {
		resp, err := f.retrieval.Search(context.Background(), SearchRequest{
			Query:  "records",
			Filter: models.EvidenceFilter{Tags: filterTags},
		})
		require.NoError(t, err)
		out := make([]string, 0, len(resp.Results))
		for _, r := range resp.Results {
			out = append(out, r.Record.Title)
		}
		return out
	}

	assert.Equal(t, []string{"breach"}, titles("Data"))
	assert.Equal(t, []string{"hearing"}, titles("media"))
	assert.Equal(t, []string{"breach"}, titles("h"))
	assert.ElementsMatch(t, []string{"breach", "hearing"}, titles("a"))
}

func TestRetrievalService_Search_PreviewAndDetail(t *testing.T) {
	f := newEvidenceFixture(t)
	body := "Reach me at jane@example.com. " + strings.Repeat("word ", 100)
	f.ingestText(t, "long", "fraud", body)

	resp, err := f.retrieval.Search(context.Background(), SearchRequest{Query: "word"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	preview := resp.Results[0].Record.FullText
	assert.True(t, strings.HasSuffix(preview, "..."))
	assert.Contains(t, preview, "[EMAIL_REDACTED]")

	resp, err = f.retrieval.Search(context.Background(), SearchRequest{Query: "word", Detail: true})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	full := resp.Results[0].Record.FullText
	assert.False(t, strings.HasSuffix(full, "..."))
	assert.NotContains(t, full, "jane@example.com")
}

func TestRetrievalService_Search_GatewayErrorFallsBackToSubstring(t *testing.T) {
	f := newEvidenceFixture(t)
	broken := newEvidenceFixture(t, withRepo(f.repo), withGateway(erroringGateway{Gateway: f.gateway}))
	f.ingestText(t, "laptop", "theft", "A laptop was stolen from the library.")
	f.ingestText(t, "upi", "fraud", "Money moved through UPI to an unknown account.")

	resp, err := broken.retrieval.Search(context.Background(), SearchRequest{Query: "LAPTOP library", TopK: intPtr(5)})
	require.NoError(t, err, "backend failures never reach the caller")
	assert.Equal(t, SearchModeSubstring, resp.Mode)
	assert.True(t, resp.Degraded)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "laptop", resp.Results[0].Record.Title)
	assert.Zero(t, resp.Results[0].Score)
}

func TestRetrievalService_Search_DegradedEmptyFallsBackToSubstring(t *testing.T) {
	f := newEvidenceFixture(t, withPrimary(downStore{}))
	// Records without vectors, as after a restart that lost the memory index.
	seedRecords(t, f, 3, nil)

	resp, err := f.retrieval.Search(context.Background(), SearchRequest{Query: "record 01"})
	require.NoError(t, err)
	assert.Equal(t, SearchModeSubstring, resp.Mode)
	assert.True(t, resp.Degraded)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "record 01", resp.Results[0].Record.Title)
}

func TestRetrievalService_Search_DegradedWritesStayFindable(t *testing.T) {
	f := newEvidenceFixture(t, withPrimary(downStore{}))
	f.ingestText(t, "laptop", "theft", "A laptop was stolen from the library.")

	resp, err := f.retrieval.Search(context.Background(), SearchRequest{Query: "laptop"})
	require.NoError(t, err)
	assert.Equal(t, SearchModeSemantic, resp.Mode)
	assert.True(t, resp.Degraded)
	assert.Len(t, resp.Results, 1)
}

func TestRetrievalService_Search_Validation(t *testing.T) {
	f := newEvidenceFixture(t)

	_, err := f.retrieval.Search(context.Background(), SearchRequest{Query: "   "})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.retrieval.Search(context.Background(), SearchRequest{Query: strings.Repeat("a", MaxQueryRunes+1)})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRetrievalService_Search_InjectionIsRejectedAndLogged(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	f := newEvidenceFixture(t)
	svc := NewRetrievalService(RetrievalServiceDeps{
		Repo:     f.repo,
		Embedder: f.embedder,
		Gateway:  f.gateway,
		Audit:    f.audit,
		Security: audit.NewSecurityAuditor(zap.New(core)),
	}, zap.NewNop())

	anon := models.WithProvenance(context.Background(), models.Provenance{Source: models.SourceHTTP, CallerAddress: "203.0.113.9"})
	_, err := svc.Search(anon, SearchRequest{Query: "' OR 1=1--"})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	events := logs.FilterMessage("Injection attempt detected").All()
	require.Len(t, events, 1)
	assert.Equal(t, "query", events[0].ContextMap()["field"])
	assert.Equal(t, "203.0.113.9", events[0].ContextMap()["client_ip"])

	entries, err := f.audit.List(context.Background(), models.AuditQuery{Action: models.AuditActionSearchEvidence})
	require.NoError(t, err)
	assert.Empty(t, entries, "anonymous rejections stay in the security log only")

	ctx := models.WithProvenance(f.sessionCtx(t, "i.rao@police.gov"),
		models.Provenance{Source: models.SourceMCP, CallerAddress: "203.0.113.9"})
	_, err = svc.Search(ctx, SearchRequest{Query: "' OR 1=1--"})
	require.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Len(t, logs.FilterMessage("Injection attempt detected").All(), 2)

	entries, err = f.audit.List(context.Background(), models.AuditQuery{Action: models.AuditActionSearchEvidence})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, models.AuditOutcomeDenied, e.Outcome)
	assert.Equal(t, "off-inv", e.OfficialID)
	assert.Equal(t, ReasonScreening, e.Metadata["reason"])
	assert.Equal(t, []string{"query"}, e.Metadata["fields"])
	assert.NotContains(t, e.Metadata, "query", "the rejected payload is not copied into the audit trail")
}

func TestRetrievalService_Search_AuditsAuthenticatedSearches(t *testing.T) {
	f := newEvidenceFixture(t)
	f.ingestText(t, "laptop", "theft", "A laptop was stolen from the library.")

	_, err := f.retrieval.Search(context.Background(), SearchRequest{Query: "laptop"})
	require.NoError(t, err)
	entries, err := f.audit.List(context.Background(), models.AuditQuery{Action: models.AuditActionSearchEvidence})
	require.NoError(t, err)
	assert.Empty(t, entries, "anonymous searches are not attributed")

	ctx := f.sessionCtx(t, "i.rao@police.gov")
	_, err = f.retrieval.Search(ctx, SearchRequest{Query: "laptop found near 42 Baker Street", Detail: true})
	require.NoError(t, err)

	entries, err = f.audit.List(context.Background(), models.AuditQuery{Action: models.AuditActionSearchEvidence})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "off-inv", e.OfficialID)
	assert.Equal(t, "laptop found near [ADDRESS_REDACTED]", e.Metadata["query"])
	assert.Equal(t, SearchModeSemantic, e.Metadata["mode"])
	assert.Equal(t, true, e.Metadata["detail"])
}
