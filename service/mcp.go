package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/margin/annotation"
	"github.com/hazyhaar/margin/kit"
)

// RegisterMCP registers the agent-side tools on an MCP server. The MCP
// transport is trusted local plumbing, so tools act as agentName without a
// key check; remote agents use the HTTP surface instead.
func (s *Service) RegisterMCP(srv *mcp.Server, agentName string) {
	s.registerListAnnotations(srv)
	s.registerClaimNext(srv, agentName)
	s.registerReportImplemented(srv)
	s.registerReportFailed(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sch := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sch["required"] = required
	}
	return sch
}

func (s *Service) registerListAnnotations(srv *mcp.Server) {
	type req struct {
		Status string `json:"status"`
	}

	tool := &mcp.Tool{
		Name:        "margin_list_annotations",
		Description: "List annotations, optionally filtered by lifecycle status",
		InputSchema: inputSchema(map[string]any{
			"status": map[string]any{"type": "string", "description": "Filter: pending, processing, implemented, approved, completed, rejected, revision_requested, failed, interrupted"},
		}, nil),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		records, err := s.store.List(ctx, "", true)
		if err != nil {
			return nil, err
		}
		out := make([]annotation.Summary, 0, len(records))
		for _, rec := range records {
			if p.Status != "" && rec.Status != annotation.Status(p.Status) {
				continue
			}
			out = append(out, rec.Summary(""))
		}
		return map[string]any{"annotations": out}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if len(r.Params.Arguments) > 0 {
			if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (s *Service) registerClaimNext(srv *mcp.Server, agentName string) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "margin_claim_next",
		Description: "Claim the oldest waiting annotation (pending or revision_requested) for implementation",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		rec, err := s.ClaimNext(ctx, agentName)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return map[string]any{"found": false}, nil
		}
		return map[string]any{"found": true, "annotation": newClaimView(rec)}, nil
	}

	decode := func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: &req{}}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (s *Service) registerReportImplemented(srv *mcp.Server) {
	type req struct {
		ID        string `json:"id"`
		CommitSHA string `json:"commit_sha"`
	}

	tool := &mcp.Tool{
		Name:        "margin_report_implemented",
		Description: "Report a claimed annotation as implemented, with the commit carrying the change",
		InputSchema: inputSchema(map[string]any{
			"id":         map[string]any{"type": "string", "description": "Annotation ID"},
			"commit_sha": map[string]any{"type": "string", "description": "Commit SHA of the implementation"},
		}, []string{"id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if p.ID == "" {
			return nil, errors.New("id is required")
		}
		if err := s.ReportImplemented(ctx, p.ID, p.CommitSHA); err != nil {
			return nil, err
		}
		return map[string]any{"success": true}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (s *Service) registerReportFailed(srv *mcp.Server) {
	type req struct {
		ID     string `json:"id"`
		Reason string `json:"reason"`
	}

	tool := &mcp.Tool{
		Name:        "margin_report_failed",
		Description: "Report that a claimed annotation could not be implemented",
		InputSchema: inputSchema(map[string]any{
			"id":     map[string]any{"type": "string", "description": "Annotation ID"},
			"reason": map[string]any{"type": "string", "description": "Why the implementation failed"},
		}, []string{"id"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		if p.ID == "" {
			return nil, errors.New("id is required")
		}
		if err := s.ReportFailed(ctx, p.ID, p.Reason); err != nil {
			return nil, err
		}
		return map[string]any{"success": true}, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
