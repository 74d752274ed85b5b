package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/margin/annotation"
)

var testMCPImpl = &mcp.Implementation{Name: "margin-test", Version: "0.1.0"}

func mcpSession(t *testing.T, svc *Service) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testMCPImpl, nil)
	svc.RegisterMCP(srv, "local-agent")

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) string {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text
}

func TestMCP_ClaimAndReport(t *testing.T) {
	svc := newTestService(t)
	session := mcpSession(t, svc)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, &Claims{Name: "alice"}, SubmitRequest{Comment: "fix it"}); err != nil {
		t.Fatal(err)
	}

	text := mcpCallTool(t, session, "margin_claim_next", map[string]any{})
	var claim struct {
		Found      bool `json:"found"`
		Annotation struct {
			ID      string `json:"id"`
			Comment string `json:"comment"`
		} `json:"annotation"`
	}
	if err := json.Unmarshal([]byte(text), &claim); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !claim.Found || claim.Annotation.Comment != "fix it" {
		t.Fatalf("claim = %s", text)
	}

	text = mcpCallTool(t, session, "margin_report_implemented", map[string]any{
		"id": claim.Annotation.ID, "commit_sha": "deadbeefcafe",
	})
	if !strings.Contains(text, "true") {
		t.Errorf("report = %s", text)
	}

	rec, err := svc.store.Get(ctx, claim.Annotation.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != annotation.StatusImplemented || rec.ClaimedBy != "local-agent" {
		t.Errorf("record = %+v", rec)
	}

	// Empty queue now.
	text = mcpCallTool(t, session, "margin_claim_next", map[string]any{})
	if !strings.Contains(text, `"found":false`) {
		t.Errorf("second claim = %s", text)
	}
}

func TestMCP_ListWithStatusFilter(t *testing.T) {
	svc := newTestService(t)
	session := mcpSession(t, svc)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, &Claims{Name: "alice"}, SubmitRequest{Comment: "one"}); err != nil {
		t.Fatal(err)
	}
	rec, err := svc.Submit(ctx, &Claims{Name: "bob"}, SubmitRequest{Comment: "two"})
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.store.Cancel(ctx, rec.ID, "withdrawn"); err != nil {
		t.Fatal(err)
	}

	text := mcpCallTool(t, session, "margin_list_annotations", map[string]any{"status": "pending"})
	var resp struct {
		Annotations []annotation.Summary `json:"annotations"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Annotations) != 1 || resp.Annotations[0].Comment != "one" {
		t.Errorf("filtered list = %s", text)
	}

	text = mcpCallTool(t, session, "margin_list_annotations", map[string]any{})
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Annotations) != 2 {
		t.Errorf("unfiltered list = %s", text)
	}
}

func TestMCP_ReportFailedRequiresID(t *testing.T) {
	svc := newTestService(t)
	session := mcpSession(t, svc)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "margin_report_failed",
		Arguments: map[string]any{"reason": "no id given"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if result.GetError() == nil {
		t.Error("expected tool error for missing id")
	}
}
