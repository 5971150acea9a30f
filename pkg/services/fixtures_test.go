package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/audit"
	"github.com/ekaya-inc/evidence-engine/pkg/auth"
	"github.com/ekaya-inc/evidence-engine/pkg/config"
	"github.com/ekaya-inc/evidence-engine/pkg/embedding"
	"github.com/ekaya-inc/evidence-engine/pkg/extraction"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
	"github.com/ekaya-inc/evidence-engine/pkg/repositories"
	"github.com/ekaya-inc/evidence-engine/pkg/summarize"
	"github.com/ekaya-inc/evidence-engine/pkg/vectorstore"
)

const testPassword = "correct horse"

// countingPasswords accepts "hash:<password>" and counts every comparison.
type countingPasswords struct {
	mu    sync.Mutex
	calls int
}

func (c *countingPasswords) Compare(hash, password string) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if hash != "hash:"+password {
		return errors.New("mismatch")
	}
	return nil
}

func (c *countingPasswords) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// failingAuditRepository rejects every write.
type failingAuditRepository struct {
	repositories.AuditRepository
}

func (failingAuditRepository) Create(context.Context, *models.AuditLogEntry) error {
	return errors.New("disk full")
}

func testOfficials() []*auth.Official {
	return []*auth.Official{
		{ID: "off-inv", Email: "i.rao@police.gov", Name: "I. Rao", Department: "Cyber Cell", Role: models.RoleInvestigator, PasswordHash: "hash:" + testPassword},
		{ID: "off-sup", Email: "s.iyer@police.gov", Name: "S. Iyer", Department: "Cyber Cell", Role: models.RoleSupervisor, PasswordHash: "hash:" + testPassword},
		{ID: "off-adm", Email: "a.khan@cybercrime.gov", Name: "A. Khan", Department: "Headquarters", Role: models.RoleAdmin, PasswordHash: "hash:" + testPassword},
	}
}

type authFixture struct {
	svc       AuthService
	audit     AuditService
	auditRepo repositories.AuditRepository
	sessions  *auth.SessionStore
	passwords *countingPasswords
}

func newAuthFixture(t *testing.T, auditRepo repositories.AuditRepository) *authFixture {
	t.Helper()
	if auditRepo == nil {
		auditRepo = repositories.NewMemoryAuditRepository()
	}
	tokens, err := auth.NewTokenIssuer([]byte("test-secret"))
	require.NoError(t, err)

	f := &authFixture{
		auditRepo: auditRepo,
		sessions:  auth.NewSessionStore(),
		passwords: &countingPasswords{},
	}
	f.audit = NewAuditService(auditRepo, nil, zap.NewNop())
	f.svc = NewAuthService(AuthServiceDeps{
		Roster:    auth.NewRoster(testOfficials()...),
		AllowList: auth.NewDomainAllowList([]string{"police.gov", "cybercrime.gov"}),
		Sessions:  f.sessions,
		Tokens:    tokens,
		Cookies:   auth.NewCookieManager("test-secret", auth.CookieSettings{}),
		Passwords: f.passwords,
		Audit:     f.audit,
	}, zap.NewNop())
	return f
}

// login opens a session for email or fails the test.
func (f *authFixture) login(t *testing.T, email string) *LoginResult {
	t.Helper()
	res, err := f.svc.Login(context.Background(), email, testPassword)
	require.NoError(t, err)
	return res
}

// entries returns every audit entry, newest first.
func (f *authFixture) entries(t *testing.T) []*models.AuditLogEntry {
	t.Helper()
	entries, err := f.auditRepo.List(context.Background(), models.AuditQuery{})
	require.NoError(t, err)
	return entries
}

const testDimension = 32

// downStore is a primary vector index that is always unreachable.
type downStore struct{}

func (downStore) Name() string { return "down" }

func (downStore) Upsert(context.Context, models.Namespace, *models.VectorEntry) (string, error) {
	return "", errors.New("connection refused")
}

func (downStore) Query(context.Context, models.Namespace, []float32, int, models.VectorFilter) ([]models.VectorMatch, error) {
	return nil, errors.New("connection refused")
}

func (downStore) Delete(context.Context, models.Namespace, uuid.UUID) error {
	return errors.New("connection refused")
}

// erroringGateway fails every query.
type erroringGateway struct {
	vectorstore.Gateway
}

func (erroringGateway) Query(context.Context, []float32, int, models.VectorFilter, ...models.Namespace) (*vectorstore.QueryResult, error) {
	return nil, errors.New("index exploded")
}

// failingEvidenceRepository rejects Create.
type failingEvidenceRepository struct {
	repositories.EvidenceRepository
}

func (failingEvidenceRepository) Create(context.Context, *models.EvidenceRecord) error {
	return errors.New("catalog unavailable")
}

type evidenceFixture struct {
	*authFixture
	repo      repositories.EvidenceRepository
	memory    *vectorstore.MemoryStore
	gateway   vectorstore.Gateway
	embedder  embedding.Generator
	ingestion IngestionService
	retrieval RetrievalService
	catalog   CatalogService
}

type evidenceOption func(*evidenceFixture)

func withPrimary(primary vectorstore.Store) evidenceOption {
	return func(f *evidenceFixture) {
		f.gateway = vectorstore.NewGateway(primary, f.memory, vectorstore.GatewayOptions{Dimension: testDimension}, zap.NewNop())
	}
}

func withGateway(gw vectorstore.Gateway) evidenceOption {
	return func(f *evidenceFixture) { f.gateway = gw }
}

func withRepo(repo repositories.EvidenceRepository) evidenceOption {
	return func(f *evidenceFixture) { f.repo = repo }
}

func newEvidenceFixture(t *testing.T, opts ...evidenceOption) *evidenceFixture {
	t.Helper()
	f := &evidenceFixture{
		authFixture: newAuthFixture(t, nil),
		repo:        repositories.NewMemoryEvidenceRepository(),
		memory:      vectorstore.NewMemoryStore(),
		embedder:    embedding.NewGenerator(nil, nil, embedding.Options{Dimension: testDimension}, zap.NewNop()),
	}
	f.gateway = vectorstore.NewGateway(nil, f.memory, vectorstore.GatewayOptions{Dimension: testDimension}, zap.NewNop())
	for _, opt := range opts {
		opt(f)
	}

	f.ingestion = NewIngestionService(IngestionServiceDeps{
		Repo:       f.repo,
		Extractor:  extraction.NewExtractor(nil, zap.NewNop()),
		Summarizer: summarize.NewWithClient(nil, config.SummarizerConfig{}, zap.NewNop()),
		Embedder:   f.embedder,
		Gateway:    f.gateway,
	}, zap.NewNop())
	f.retrieval = NewRetrievalService(RetrievalServiceDeps{
		Repo:     f.repo,
		Embedder: f.embedder,
		Gateway:  f.gateway,
		Audit:    f.audit,
		Security: audit.NewSecurityAuditor(zap.NewNop()),
	}, zap.NewNop())
	f.catalog = NewCatalogService(f.repo, f.gateway, f.audit, 0, zap.NewNop())
	return f
}

// ingestText uploads a plain-text file and returns the committed record.
func (f *evidenceFixture) ingestText(t *testing.T, title, category, body string, tags ...string) *models.EvidenceRecord {
	t.Helper()
	res, err := f.ingestion.Ingest(context.Background(), IngestRequest{
		Filename:  title + ".txt",
		MediaType: "text/plain",
		Data:      []byte(body),
		Title:     title,
		Category:  category,
		Tags:      tags,
	})
	require.NoError(t, err)
	return res.Record
}

// sessionCtx returns a context carrying a live session for email.
func (f *evidenceFixture) sessionCtx(t *testing.T, email string) context.Context {
	t.Helper()
	res := f.login(t, email)
	return auth.WithSession(context.Background(), res.Session, res.Token)
}

func zapNop() *zap.Logger { return zap.NewNop() }

func intPtr(n int) *int { return &n }
