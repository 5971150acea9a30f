package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/auth"
	"github.com/ekaya-inc/evidence-engine/pkg/logging"
)

// Security levels attached to tool call log lines.
const (
	SecurityNormal   = "normal"
	SecurityWarning  = "warning"
	SecurityCritical = "critical"
)

// maxParamSize caps a single logged parameter value.
const maxParamSize = 1024

// sensitiveParamKeys marks parameter names whose values are hashed.
var sensitiveParamKeys = []string{"password", "secret", "token", "key", "credential"}

// ToolCallLogger writes one structured log line per MCP tool call. Access
// to evidence itself is recorded in the audit trail by the services; this
// covers protocol-level outcomes and timing.
type ToolCallLogger struct {
	logger *zap.Logger

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewToolCallLogger creates a ToolCallLogger.
func NewToolCallLogger(logger *zap.Logger) *ToolCallLogger {
	return &ToolCallLogger{
		logger: logger.Named("mcp-tools"),
	}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *ToolCallLogger) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

func (a *ToolCallLogger) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *ToolCallLogger) afterCallTool(ctx context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	duration := a.elapsed(id)
	summary := summarizeResult(result)
	level := classifyResult(result)

	fields := append(a.baseFields(ctx, req),
		zap.Duration("duration", duration),
		zap.Bool("is_error", result != nil && result.IsError),
		zap.Any("result", summary),
		zap.String("security_level", level),
	)
	if level == SecurityNormal {
		a.logger.Info("MCP tool call", fields...)
		return
	}
	a.logger.Warn("MCP tool call", fields...)
}

func (a *ToolCallLogger) onError(ctx context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	fields := append(a.baseFields(ctx, req),
		zap.Duration("duration", a.elapsed(id)),
		zap.String("error", logging.SanitizeError(err)),
	)
	a.logger.Error("MCP tool call failed", fields...)
}

func (a *ToolCallLogger) elapsed(id any) time.Duration {
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		return time.Since(v.(time.Time))
	}
	return 0
}

func (a *ToolCallLogger) baseFields(ctx context.Context, req *mcplib.CallToolRequest) []zap.Field {
	fields := []zap.Field{
		zap.String("tool", req.Params.Name),
		zap.Any("params", sanitizeParams(req.Params.Arguments)),
	}
	if session, ok := auth.GetSession(ctx); ok {
		fields = append(fields,
			zap.String("official_id", session.OfficialID),
			zap.String("role", session.Role.String()))
	}
	return fields
}

// sanitizeParams prepares tool arguments for logging: sensitive values are
// hashed, free text is redacted and truncated.
func sanitizeParams(args any) map[string]any {
	params, ok := args.(map[string]any)
	if !ok || len(params) == 0 {
		return nil
	}

	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		sanitized[k] = sanitizeValue(k, v)
	}
	return sanitized
}

func sanitizeValue(key string, value any) any {
	if isSensitiveKey(key) {
		return hashSensitiveValue(value)
	}

	switch val := value.(type) {
	case string:
		return logging.TruncateString(logging.SanitizeSearchQuery(val), maxParamSize)
	case map[string]any:
		return sanitizeParams(val)
	default:
		return value
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range sensitiveParamKeys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// hashSensitiveValue returns a SHA-256 hash prefix for sensitive values,
// allowing correlation across log lines without storing the actual value.
func hashSensitiveValue(value any) string {
	var str string
	switch v := value.(type) {
	case string:
		str = v
	default:
		str = fmt.Sprintf("%v", v)
	}
	hash := sha256.Sum256([]byte(str))
	return "sha256:" + hex.EncodeToString(hash[:8])
}

// summarizeResult creates a compact summary of the tool result. Previews are
// never logged: results carry evidence text.
func summarizeResult(result *mcplib.CallToolResult) map[string]any {
	if result == nil {
		return nil
	}

	summary := map[string]any{
		"content_count": len(result.Content),
	}
	for _, c := range result.Content {
		tc, ok := c.(mcplib.TextContent)
		if !ok {
			continue
		}
		var partial struct {
			Count    *int   `json:"count"`
			Total    *int   `json:"total"`
			Mode     string `json:"mode"`
			Degraded *bool  `json:"degraded"`
			Code     string `json:"code"`
		}
		if err := json.Unmarshal([]byte(tc.Text), &partial); err != nil {
			break
		}
		if partial.Count != nil {
			summary["count"] = *partial.Count
		}
		if partial.Total != nil {
			summary["total"] = *partial.Total
		}
		if partial.Mode != "" {
			summary["mode"] = partial.Mode
		}
		if partial.Degraded != nil {
			summary["degraded"] = *partial.Degraded
		}
		if partial.Code != "" {
			summary["error_code"] = partial.Code
		}
		break
	}
	return summary
}

// classifyResult inspects an error result for security-relevant codes.
func classifyResult(result *mcplib.CallToolResult) string {
	if result == nil || !result.IsError {
		return SecurityNormal
	}
	for _, c := range result.Content {
		tc, ok := c.(mcplib.TextContent)
		if !ok {
			continue
		}
		text := strings.ToLower(tc.Text)
		if strings.Contains(text, "disallowed pattern") {
			return SecurityCritical
		}
		if strings.Contains(text, `"forbidden"`) || strings.Contains(text, "authentication_required") {
			return SecurityWarning
		}
	}
	return SecurityNormal
}
