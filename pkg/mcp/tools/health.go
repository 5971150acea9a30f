package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// VectorBackend reports on the configured vector index.
type VectorBackend interface {
	Primary() string
	Degraded() bool
}

type healthResult struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	VectorBackend  string `json:"vector_backend,omitempty"`
	VectorDegraded bool   `json:"vector_degraded,omitempty"`
}

// RegisterHealthTool adds the health tool. Agents use it to learn whether
// search results currently come from the primary index or the fallback.
func RegisterHealthTool(s *server.MCPServer, version string, vectors VectorBackend) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server status, version and whether the vector index is degraded"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res := healthResult{Status: "ok", Version: version}
		if vectors != nil {
			res.VectorBackend = vectors.Primary()
			if vectors.Degraded() {
				res.Status = "degraded"
				res.VectorDegraded = true
			}
		}
		result, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health result: %w", err)
		}
		return mcp.NewToolResultText(string(result)), nil
	})
}
