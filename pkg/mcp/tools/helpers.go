package tools

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// trimString removes leading and trailing whitespace from a string.
// This is a common helper used across MCP tool parameter validation.
func trimString(s string) string {
	return strings.TrimSpace(s)
}

// getOptionalString extracts an optional string argument from the request.
func getOptionalString(req mcp.CallToolRequest, key string) string {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return ""
	}
	val, ok := args[key].(string)
	if !ok {
		return ""
	}
	return trimString(val)
}

// getOptionalFloat extracts an optional float argument from the request.
func getOptionalFloat(req mcp.CallToolRequest, key string) (float64, bool) {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return 0, false
	}
	val, ok := args[key].(float64)
	return val, ok
}

// getOptionalInt extracts an optional integer argument, returning nil when
// absent so the service default applies.
func getOptionalInt(req mcp.CallToolRequest, key string) *int {
	val, ok := getOptionalFloat(req, key)
	if !ok {
		return nil
	}
	n := int(val)
	return &n
}

// getOptionalBool extracts an optional boolean argument, returning defaultVal
// when absent.
func getOptionalBool(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	if args, ok := req.Params.Arguments.(map[string]any); ok {
		if val, ok := args[key].(bool); ok {
			return val
		}
	}
	return defaultVal
}

// getOptionalStringSlice accepts either an array of strings or a single
// comma-separated string.
func getOptionalStringSlice(req mcp.CallToolRequest, key string) []string {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return nil
	}
	var out []string
	switch val := args[key].(type) {
	case []any:
		for _, item := range val {
			if s, ok := item.(string); ok {
				if s = trimString(s); s != "" {
					out = append(out, s)
				}
			}
		}
	case string:
		for _, s := range strings.Split(val, ",") {
			if s = trimString(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
