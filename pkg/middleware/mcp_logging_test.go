package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/evidence-engine/pkg/auth"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

func rpcHandler(status int, response string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	})
}

func serveRPC(t *testing.T, h http.Handler, body string, session *models.AuthSession) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	if session != nil {
		req = req.WithContext(auth.WithSession(req.Context(), session, "tok"))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMCPRequestLogger_SuccessfulToolCall(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	session := &models.AuthSession{ID: "s-1", OfficialID: "off-inv", Role: models.RoleInvestigator}

	h := MCPRequestLogger(zap.New(core))(rpcHandler(http.StatusOK,
		`{"jsonrpc":"2.0","id":7,"result":{"content":[{"type":"text","text":"{}"}]}}`))
	rec := serveRPC(t, h,
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"search_evidence","arguments":{"query":"stolen laptop"}}}`,
		session)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":7`)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "MCP exchange", entry.Message)
	assert.Equal(t, zapcore.DebugLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "tools/call", fields["rpc_method"])
	assert.Equal(t, "7", fields["rpc_id"])
	assert.Equal(t, "search_evidence", fields["tool"])
	assert.Equal(t, "off-inv", fields["official_id"])
	assert.Equal(t, int64(http.StatusOK), fields["status"])
	assert.NotContains(t, fields, "arguments", "tool arguments belong to the tool call hooks")
}

func TestMCPRequestLogger_ProtocolError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	h := MCPRequestLogger(zap.New(core))(rpcHandler(http.StatusOK,
		`{"jsonrpc":"2.0","id":"a","error":{"code":-32601,"message":"method not found"}}`))
	serveRPC(t, h, `{"jsonrpc":"2.0","id":"a","method":"resources/list"}`, nil)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "MCP exchange failed", entry.Message)
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "resources/list", fields["rpc_method"])
	assert.Equal(t, `"a"`, fields["rpc_id"])
	assert.Equal(t, int64(-32601), fields["rpc_error_code"])
	assert.Equal(t, "method not found", fields["rpc_error"])
	assert.Equal(t, "", fields["official_id"])
	assert.NotContains(t, fields, "tool")
}

func TestMCPRequestLogger_RestoresBodyForServer(t *testing.T) {
	core, _ := observer.New(zapcore.DebugLevel)
	const body = `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`

	var seen string
	h := MCPRequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seen = string(b)
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := serveRPC(t, h, body, nil)

	assert.Equal(t, body, seen)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestMCPRequestLogger_MalformedBody(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	h := MCPRequestLogger(zap.New(core))(rpcHandler(http.StatusBadRequest, `not json either`))
	rec := serveRPC(t, h, `{invalid json`, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "unparsed", fields["rpc_method"])
	assert.Equal(t, int64(http.StatusBadRequest), fields["status"])
}

func TestMCPRequestLogger_RejectsOversizedBody(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	called := false
	h := MCPRequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := serveRPC(t, h, strings.Repeat("x", maxRPCBodyBytes+1), nil)

	assert.False(t, called)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("MCP request body too large").Len())
}

func TestMCPRequestLogger_NilLoggerPassesThrough(t *testing.T) {
	called := false
	h := MCPRequestLogger(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := serveRPC(t, h, `{}`, nil)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}
