package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/audit"
	"github.com/ekaya-inc/evidence-engine/pkg/auth"
	"github.com/ekaya-inc/evidence-engine/pkg/config"
	"github.com/ekaya-inc/evidence-engine/pkg/embedding"
	"github.com/ekaya-inc/evidence-engine/pkg/extraction"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
	"github.com/ekaya-inc/evidence-engine/pkg/repositories"
	"github.com/ekaya-inc/evidence-engine/pkg/services"
	"github.com/ekaya-inc/evidence-engine/pkg/summarize"
	"github.com/ekaya-inc/evidence-engine/pkg/vectorstore"
)

const (
	testPassword    = "correct horse"
	testDimension   = 32
	testUploadLimit = 64 << 10

	investigatorEmail = "i.rao@police.gov"
	supervisorEmail   = "s.iyer@police.gov"
	adminEmail        = "a.khan@cybercrime.gov"
)

// plainPasswords accepts "hash:<password>".
type plainPasswords struct{}

func (plainPasswords) Compare(hash, password string) error {
	if hash != "hash:"+password {
		return errors.New("mismatch")
	}
	return nil
}

// apiFixture is the HTTP surface wired over in-memory services.
type apiFixture struct {
	mux       *http.ServeMux
	authSvc   services.AuthService
	auditRepo repositories.AuditRepository
	repo      repositories.EvidenceRepository
	gateway   vectorstore.Gateway
	ingestion services.IngestionService
	retrieval services.RetrievalService
	catalog   services.CatalogService
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := zap.NewNop()

	tokens, err := auth.NewTokenIssuer([]byte("test-secret"))
	require.NoError(t, err)
	cookies := auth.NewCookieManager("test-secret", auth.CookieSettings{})

	f := &apiFixture{
		auditRepo: repositories.NewMemoryAuditRepository(),
		repo:      repositories.NewMemoryEvidenceRepository(),
	}
	auditSvc := services.NewAuditService(f.auditRepo, audit.NewSecurityAuditor(logger), logger)
	f.authSvc = services.NewAuthService(services.AuthServiceDeps{
		Roster: auth.NewRoster(
			&auth.Official{ID: "off-inv", Email: investigatorEmail, Name: "I. Rao", Department: "Cyber Cell", Role: models.RoleInvestigator, PasswordHash: "hash:" + testPassword},
			&auth.Official{ID: "off-sup", Email: supervisorEmail, Name: "S. Iyer", Department: "Cyber Cell", Role: models.RoleSupervisor, PasswordHash: "hash:" + testPassword},
			&auth.Official{ID: "off-adm", Email: adminEmail, Name: "A. Khan", Department: "Headquarters", Role: models.RoleAdmin, PasswordHash: "hash:" + testPassword},
			&auth.Official{ID: "off-ext", Email: "guest@example.com", Name: "Guest", Role: models.RoleInvestigator, PasswordHash: "hash:" + testPassword},
		),
		AllowList: auth.NewDomainAllowList([]string{"police.gov", "cybercrime.gov"}),
		Sessions:  auth.NewSessionStore(),
		Tokens:    tokens,
		Cookies:   cookies,
		Passwords: plainPasswords{},
		Audit:     auditSvc,
	}, logger)

	embedder := embedding.NewGenerator(nil, nil, embedding.Options{Dimension: testDimension}, logger)
	f.gateway = vectorstore.NewGateway(nil, vectorstore.NewMemoryStore(), vectorstore.GatewayOptions{Dimension: testDimension}, logger)
	f.ingestion = services.NewIngestionService(services.IngestionServiceDeps{
		Repo:           f.repo,
		Extractor:      extraction.NewExtractor(nil, logger),
		Summarizer:     summarize.NewWithClient(nil, config.SummarizerConfig{}, logger),
		Embedder:       embedder,
		Gateway:        f.gateway,
		MaxUploadBytes: testUploadLimit,
	}, logger)
	f.retrieval = services.NewRetrievalService(services.RetrievalServiceDeps{
		Repo:     f.repo,
		Embedder: embedder,
		Gateway:  f.gateway,
		Audit:    auditSvc,
		Security: audit.NewSecurityAuditor(logger),
	}, logger)
	f.catalog = services.NewCatalogService(f.repo, f.gateway, auditSvc, 0, logger)

	authMiddleware := auth.NewMiddleware(f.authSvc, logger)
	f.mux = http.NewServeMux()
	NewHealthHandler(&config.Config{Version: "test-version", Env: "test"}, f.gateway, logger).RegisterRoutes(f.mux)
	NewAuthHandler(f.authSvc, cookies, logger).RegisterRoutes(f.mux)
	NewIngestHandler(f.ingestion, testUploadLimit, logger).RegisterRoutes(f.mux)
	NewSearchHandler(f.retrieval, logger).RegisterRoutes(f.mux, authMiddleware)
	NewEvidenceHandler(f.catalog, logger).RegisterRoutes(f.mux, authMiddleware)
	NewAuditHandler(auditSvc, logger).RegisterRoutes(f.mux, authMiddleware)
	return f
}

// do serves one request. token, when set, is sent as a Bearer credential.
func (f *apiFixture) do(t *testing.T, method, target, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) doJSON(t *testing.T, method, target, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	return f.do(t, method, target, token, body, "application/json")
}

// login returns a session token for email.
func (f *apiFixture) login(t *testing.T, email string) string {
	t.Helper()
	res, err := f.authSvc.Login(context.Background(), email, testPassword)
	require.NoError(t, err)
	return res.Token
}

// seed ingests a text file directly through the service.
func (f *apiFixture) seed(t *testing.T, title, category, body string, tags ...string) *models.EvidenceRecord {
	t.Helper()
	res, err := f.ingestion.Ingest(context.Background(), services.IngestRequest{
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

func (f *apiFixture) auditTrail(t *testing.T) []*models.AuditLogEntry {
	t.Helper()
	entries, err := f.auditRepo.List(context.Background(), models.AuditQuery{})
	require.NoError(t, err)
	return entries
}

// uploadPart describes the file part of a multipart upload.
type uploadPart struct {
	filename    string
	contentType string
	data        []byte
}

// multipartBody builds an upload form. A nil file omits the file part.
func multipartBody(t *testing.T, file *uploadPart, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+file.filename+`"`)
		if file.contentType != "" {
			h.Set("Content-Type", file.contentType)
		}
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

// decodeEnvelope unmarshals an ApiResponse whose data is decoded into out.
func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, out any) ApiResponse {
	t.Helper()
	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if out != nil {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return ApiResponse{Success: env.Success, Error: env.Error, Message: env.Message}
}

// decodeError returns the error code of a JSON error body.
func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body["error"]
}

func intPtr(n int) *int { return &n }
