// Package tools provides MCP tool implementations for evidence-engine.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/evidence-engine/pkg/auth"
	"github.com/ekaya-inc/evidence-engine/pkg/models"
	"github.com/ekaya-inc/evidence-engine/pkg/services"
)

// EvidenceToolDeps contains dependencies for evidence tools.
type EvidenceToolDeps struct {
	Retrieval services.RetrievalService
	Catalog   services.CatalogService
	Logger    *zap.Logger
}

// RegisterEvidenceTools registers the evidence search and catalog tools.
func RegisterEvidenceTools(s *server.MCPServer, deps *EvidenceToolDeps) {
	registerSearchEvidenceTool(s, deps)
	registerListEvidenceTool(s, deps)
	registerGetEvidenceTool(s, deps)
}

// requireSession rejects calls that did not pass through the MCP auth
// middleware.
func requireSession(ctx context.Context) (*models.AuthSession, *mcp.CallToolResult) {
	session, ok := auth.GetSession(ctx)
	if !ok {
		return nil, NewErrorResult("authentication_required", "a valid session is required")
	}
	return session, nil
}

// filterArgs reads the shared category, location, tags and date arguments.
func filterArgs(req mcp.CallToolRequest) (models.EvidenceFilter, *mcp.CallToolResult) {
	filter := models.EvidenceFilter{
		Category: strings.ToLower(getOptionalString(req, "category")),
		Location: getOptionalString(req, "location"),
		Tags:     getOptionalStringSlice(req, "tags"),
	}
	var err error
	if filter.DateFrom, err = models.ParseFilterDate(getOptionalString(req, "date_from"), false); err != nil {
		return filter, NewErrorResult("invalid_parameters", "date_from: "+err.Error())
	}
	if filter.DateTo, err = models.ParseFilterDate(getOptionalString(req, "date_to"), true); err != nil {
		return filter, NewErrorResult("invalid_parameters", "date_to: "+err.Error())
	}
	return filter, nil
}

func filterOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("category", mcp.Description("Only records in this category (exact, case-insensitive)")),
		mcp.WithString("location", mcp.Description("Only records whose location contains this text")),
		mcp.WithArray("tags", mcp.Description("Only records carrying at least one of these tags"), mcp.WithStringItems()),
		mcp.WithString("date_from", mcp.Description("Earliest upload date, YYYY-MM-DD or RFC 3339")),
		mcp.WithString("date_to", mcp.Description("Latest upload date, YYYY-MM-DD or RFC 3339 (inclusive)")),
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// searchEvidenceResponse is the search_evidence result.
type searchEvidenceResponse struct {
	Results  []services.SearchResult `json:"results"`
	Count    int                     `json:"count"`
	Mode     string                  `json:"mode"`
	Degraded bool                    `json:"degraded"`
	Backend  string                  `json:"backend"`
}

// registerSearchEvidenceTool adds search_evidence, ranked semantic retrieval
// with a substring fallback.
func registerSearchEvidenceTool(s *server.MCPServer, deps *EvidenceToolDeps) {
	opts := []mcp.ToolOption{
		mcp.WithDescription(
			"Search submitted evidence by meaning. Returns records ranked by similarity to the query " +
				"with a score in [0,1]. When the vector index is unavailable results come from a " +
				"keyword scan and 'degraded' is true. Personal data in results is redacted.",
		),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural language description of the evidence sought")),
		mcp.WithNumber("top_k", mcp.Description("Maximum results (default 10, max 100)")),
		mcp.WithBoolean("detail", mcp.Description("Return full redacted text instead of previews (default false)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	}
	tool := mcp.NewTool("search_evidence", append(opts, filterOptions()...)...)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, errResult := requireSession(ctx); errResult != nil {
			return errResult, nil
		}
		query, err := req.RequireString("query")
		if err != nil {
			return NewErrorResult("invalid_parameters", "query is required"), nil
		}
		filter, errResult := filterArgs(req)
		if errResult != nil {
			return errResult, nil
		}
		resp, err := deps.Retrieval.Search(ctx, services.SearchRequest{
			Query:  query,
			TopK:   getOptionalInt(req, "top_k"),
			Filter: filter,
			Detail: getOptionalBool(req, "detail", false),
		})
		if err != nil {
			if result, ok := serviceErrorResult(err); ok {
				return result, nil
			}
			return nil, fmt.Errorf("search failed: %w", err)
		}

		return jsonResult(searchEvidenceResponse{
			Results:  resp.Results,
			Count:    len(resp.Results),
			Mode:     resp.Mode,
			Degraded: resp.Degraded,
			Backend:  resp.Backend,
		})
	})
}

// registerListEvidenceTool adds list_evidence, a paged catalog listing with
// previews.
func registerListEvidenceTool(s *server.MCPServer, deps *EvidenceToolDeps) {
	opts := []mcp.ToolOption{
		mcp.WithDescription(
			"List catalog records newest first, one page at a time. Full text is cut to a preview; " +
				"use get_evidence for a single record in full.",
		),
		mcp.WithNumber("page", mcp.Description("Page number starting at 1 (default 1)")),
		mcp.WithNumber("limit", mcp.Description("Records per page (default 20, max 100)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	}
	tool := mcp.NewTool("list_evidence", append(opts, filterOptions()...)...)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, errResult := requireSession(ctx); errResult != nil {
			return errResult, nil
		}
		filter, errResult := filterArgs(req)
		if errResult != nil {
			return errResult, nil
		}
		page, _ := getOptionalFloat(req, "page")

		result, err := deps.Catalog.List(ctx, services.ListRequest{
			Page:   int(page),
			Limit:  getOptionalInt(req, "limit"),
			Filter: filter,
		})
		if err != nil {
			if result, ok := serviceErrorResult(err); ok {
				return result, nil
			}
			return nil, fmt.Errorf("list failed: %w", err)
		}
		return jsonResult(result)
	})
}

// registerGetEvidenceTool adds get_evidence. Every call is recorded in the
// audit trail as a view.
func registerGetEvidenceTool(s *server.MCPServer, deps *EvidenceToolDeps) {
	tool := mcp.NewTool(
		"get_evidence",
		mcp.WithDescription(
			"Get one evidence record with its full text and summary. Personal data is redacted. "+
				"The access is recorded in the audit trail under the calling official.",
		),
		mcp.WithString("id", mcp.Required(), mcp.Description("Evidence record id (UUID)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		session, errResult := requireSession(ctx)
		if errResult != nil {
			return errResult, nil
		}
		rawID, err := req.RequireString("id")
		if err != nil {
			return NewErrorResult("invalid_parameters", "id is required"), nil
		}
		id, err := uuid.Parse(trimString(rawID))
		if err != nil {
			return NewErrorResult("invalid_parameters", "id must be a UUID"), nil
		}

		rec, err := deps.Catalog.Get(ctx, id)
		if err != nil {
			if result, ok := serviceErrorResult(err); ok {
				return result, nil
			}
			deps.Logger.Error("get_evidence failed",
				zap.String("official_id", session.OfficialID),
				zap.String("id", id.String()),
				zap.Error(err))
			return nil, fmt.Errorf("get evidence failed: %w", err)
		}
		return jsonResult(rec)
	})
}
