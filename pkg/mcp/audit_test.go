package mcp

import (
	"context"
	"errors"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/evidence-engine/pkg/auth"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
)

func callRequest(name string, args map[string]any) *mcplib.CallToolRequest {
	req := &mcplib.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func TestToolCallLogger_LogsSuccessfulCall(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewToolCallLogger(zap.New(core))
	ctx := auth.WithSession(context.Background(),
		&models.AuthSession{OfficialID: "off-inv", Role: models.RoleInvestigator}, "tok")

	req := callRequest("search_evidence", map[string]any{"query": "mail jane@example.com", "top_k": float64(5)})
	l.beforeCallTool(ctx, 1, req)
	l.afterCallTool(ctx, 1, req, mcplib.NewToolResultText(`{"count":2,"mode":"semantic","degraded":false}`))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "MCP tool call", entry.Message)
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "search_evidence", fields["tool"])
	assert.Equal(t, "off-inv", fields["official_id"])
	assert.Equal(t, SecurityNormal, fields["security_level"])

	params := fields["params"].(map[string]any)
	assert.Equal(t, "mail [EMAIL_REDACTED]", params["query"])
	result := fields["result"].(map[string]any)
	assert.Equal(t, 2, result["count"])
	assert.Equal(t, "semantic", result["mode"])

	_, pending := l.startTimes.Load(1)
	assert.False(t, pending)
}

func TestToolCallLogger_ScreenedQueryIsCritical(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewToolCallLogger(zap.New(core))

	result := mcplib.NewToolResultText(`{"error":true,"code":"invalid_parameters","message":"query contains a disallowed pattern"}`)
	result.IsError = true
	l.afterCallTool(context.Background(), 7, callRequest("search_evidence", nil), result)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, SecurityCritical, entry.ContextMap()["security_level"])
}

func TestToolCallLogger_OnErrorIgnoresOtherMethods(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewToolCallLogger(zap.New(core))

	l.onError(context.Background(), 1, mcplib.MethodToolsList, nil, errors.New("boom"))
	assert.Equal(t, 0, logs.Len())

	l.onError(context.Background(), 2, mcplib.MethodToolsCall, callRequest("get_evidence", nil),
		errors.New("dial postgres://evidence:hunter2@db failed"))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "MCP tool call failed", entry.Message)
	assert.NotContains(t, entry.ContextMap()["error"], "hunter2")
}

func TestSanitizeParams(t *testing.T) {
	got := sanitizeParams(map[string]any{
		"api_key":  "abc",
		"category": "fraud",
		"nested":   map[string]any{"password": "pw", "location": "Pune"},
		"detail":   true,
	})

	assert.Contains(t, got["api_key"], "sha256:")
	assert.Equal(t, "fraud", got["category"])
	assert.Equal(t, true, got["detail"])
	nested := got["nested"].(map[string]any)
	assert.Contains(t, nested["password"], "sha256:")
	assert.Equal(t, "Pune", nested["location"])

	assert.Nil(t, sanitizeParams(nil))
	assert.Nil(t, sanitizeParams("not a map"))
}

func TestClassifyResult(t *testing.T) {
	assert.Equal(t, SecurityNormal, classifyResult(nil))
	assert.Equal(t, SecurityNormal, classifyResult(&mcplib.CallToolResult{IsError: false}))

	forbidden := mcplib.NewToolResultText(`{"error":true,"code":"forbidden","message":"insufficient role"}`)
	forbidden.IsError = true
	assert.Equal(t, SecurityWarning, classifyResult(forbidden))

	notFound := mcplib.NewToolResultText(`{"error":true,"code":"evidence_not_found","message":"no such record"}`)
	notFound.IsError = true
	assert.Equal(t, SecurityNormal, classifyResult(notFound))
}
