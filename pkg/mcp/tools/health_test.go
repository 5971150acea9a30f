package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticBackend struct {
	name     string
	degraded bool
}

func (b staticBackend) Primary() string { return b.name }
func (b staticBackend) Degraded() bool  { return b.degraded }

func healthServer(version string, vectors VectorBackend) *server.MCPServer {
	s := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterHealthTool(s, version, vectors)
	return s
}

func callHealth(t *testing.T, s *server.MCPServer) healthResult {
	t.Helper()
	var health healthResult
	require.NoError(t, json.Unmarshal([]byte(callTool(t, s, context.Background(), "health", nil).text(t)), &health))
	return health
}

func TestHealthTool(t *testing.T) {
	tests := []struct {
		name    string
		vectors VectorBackend
		want    healthResult
	}{
		{
			name:    "no backend wired",
			vectors: nil,
			want:    healthResult{Status: "ok", Version: "1.2.3"},
		},
		{
			name:    "memory only",
			vectors: staticBackend{name: "memory"},
			want:    healthResult{Status: "ok", Version: "1.2.3", VectorBackend: "memory"},
		},
		{
			name:    "primary healthy",
			vectors: staticBackend{name: "pinecone"},
			want:    healthResult{Status: "ok", Version: "1.2.3", VectorBackend: "pinecone"},
		},
		{
			name:    "primary bypassed",
			vectors: staticBackend{name: "pgvector", degraded: true},
			want:    healthResult{Status: "degraded", Version: "1.2.3", VectorBackend: "pgvector", VectorDegraded: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, callHealth(t, healthServer("1.2.3", tt.vectors)))
		})
	}
}

func TestHealthTool_IsReadOnly(t *testing.T) {
	s := healthServer("1.2.3", nil)

	raw, err := json.Marshal(s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`)))
	require.NoError(t, err)
	var response struct {
		Result struct {
			Tools []struct {
				Name        string `json:"name"`
				Annotations struct {
					ReadOnlyHint *bool `json:"readOnlyHint"`
				} `json:"annotations"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &response))

	require.Len(t, response.Result.Tools, 1)
	assert.Equal(t, "health", response.Result.Tools[0].Name)
	require.NotNil(t, response.Result.Tools[0].Annotations.ReadOnlyHint)
	assert.True(t, *response.Result.Tools[0].Annotations.ReadOnlyHint)
}

func TestHealthTool_EscapesVersion(t *testing.T) {
	const version = `1.0.0-beta"rc`

	assert.Equal(t, version, callHealth(t, healthServer(version, nil)).Version)
}
