package tools

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/evidence-engine/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results.
// This is used to return actionable error information to the agent
// as a successful tool result, ensuring error details are visible
// rather than being swallowed by the MCP client.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable/actionable errors that the agent should see and
// can potentially fix (e.g., invalid parameters, record not found).
//
// Do NOT use this for system failures (database connection errors,
// internal server errors) - those should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// serviceErrorResult converts caller-correctable service errors into tool
// error results. ok is false for failures the agent cannot fix.
func serviceErrorResult(err error) (*mcp.CallToolResult, bool) {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return NewErrorResult("invalid_parameters", strings.TrimPrefix(err.Error(), apperrors.ErrValidation.Error()+": ")), true
	case errors.Is(err, apperrors.ErrNotFound):
		return NewErrorResult("evidence_not_found", "no evidence record with that id"), true
	case errors.Is(err, apperrors.ErrForbidden):
		return NewErrorResult("forbidden", "the session role does not allow this action"), true
	case errors.Is(err, apperrors.ErrUnauthorized), errors.Is(err, apperrors.ErrSessionExpired):
		return NewErrorResult("authentication_required", "a valid session is required"), true
	}
	return nil, false
}
