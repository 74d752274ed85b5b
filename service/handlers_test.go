package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/margin/annotation"
	"github.com/hazyhaar/margin/dbopen"
	"github.com/hazyhaar/margin/remote"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	svc, err := New(Config{
		Store:  NewStore(db),
		Agents: NewAgentKeys(db),
		Secret: testSecret,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func testToken(t *testing.T, name string, admin bool) string {
	t.Helper()
	token, err := GenerateToken(testSecret, name, admin, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, out
}

func TestSubmitAndList(t *testing.T) {
	svc := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	alice := testToken(t, "alice", false)

	resp, out := doJSON(t, srv, http.MethodPost, "/annotations", alice, map[string]string{
		"comment":      "make the button <b>blue</b>",
		"element_html": `<button class="save primary">Save draft</button>`,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d: %v", resp.StatusCode, out)
	}
	id, _ := out["id"].(string)
	if id == "" {
		t.Fatal("no id in submit response")
	}
	if el, _ := out["element"].(string); !strings.HasPrefix(el, "button.save") {
		t.Errorf("derived element = %q, want button.save prefix", el)
	}

	// Comment HTML is stripped before storage.
	rec, err := svc.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if strings.Contains(rec.Comment, "<b>") {
		t.Errorf("comment not sanitized: %q", rec.Comment)
	}

	resp, out = doJSON(t, srv, http.MethodGet, "/annotations?include_all=true", alice, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	list, _ := out["annotations"].([]any)
	if len(list) != 1 {
		t.Fatalf("list = %d annotations, want 1", len(list))
	}
}

func TestAuthRequired(t *testing.T) {
	svc := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	resp, _ := doJSON(t, srv, http.MethodGet, "/annotations", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", resp.StatusCode)
	}

	resp, _ = doJSON(t, srv, http.MethodGet, "/annotations", "not-a-jwt", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", resp.StatusCode)
	}
}

func TestValidateEndpoint(t *testing.T) {
	svc := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	resp, out := doJSON(t, srv, http.MethodPost, "/validate", testToken(t, "carol", true), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("validate status = %d", resp.StatusCode)
	}
	if out["name"] != "carol" || out["isAdmin"] != true {
		t.Errorf("validate = %v", out)
	}
}

func TestOwnershipEnforced(t *testing.T) {
	svc := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()
	ctx := context.Background()

	alice := testToken(t, "alice", false)
	bob := testToken(t, "bob", false)
	admin := testToken(t, "root", true)

	_, out := doJSON(t, srv, http.MethodPost, "/annotations", alice, map[string]string{"comment": "fix it"})
	id := out["id"].(string)

	// Walk to implemented so approve is status-legal.
	if _, err := svc.store.Claim(ctx, "agent"); err != nil {
		t.Fatal(err)
	}
	if err := svc.store.ReportImplemented(ctx, id, "deadbeefcafe"); err != nil {
		t.Fatal(err)
	}

	resp, out := doJSON(t, srv, http.MethodPost, "/annotations/"+id+"/approve", bob, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("bob approve: status = %d, want 403", resp.StatusCode)
	}
	if out["error"] != "not your annotation" {
		t.Errorf("error = %v", out["error"])
	}

	resp, _ = doJSON(t, srv, http.MethodPost, "/annotations/"+id+"/approve", admin, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("admin approve: status = %d, want 200", resp.StatusCode)
	}
}

func TestActionStatusConflict(t *testing.T) {
	svc := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()

	alice := testToken(t, "alice", false)
	_, out := doJSON(t, srv, http.MethodPost, "/annotations", alice, map[string]string{"comment": "fix it"})
	id := out["id"].(string)

	// Approve while still pending: refused with the current status named.
	resp, out := doJSON(t, srv, http.MethodPost, "/annotations/"+id+"/approve", alice, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
	if msg, _ := out["error"].(string); !strings.Contains(msg, "pending") {
		t.Errorf("error = %q, want current status named", msg)
	}
}

func TestFinalizeEndpoint(t *testing.T) {
	svc := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()
	ctx := context.Background()

	alice := testToken(t, "alice", false)
	_, out := doJSON(t, srv, http.MethodPost, "/annotations", alice, map[string]string{"comment": "fix it"})
	id := out["id"].(string)

	// Finalize before approval: refused with the current status named.
	resp, out := doJSON(t, srv, http.MethodPost, "/annotations/"+id+"/finalize", alice, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("early finalize: status = %d, want 409", resp.StatusCode)
	}
	if msg, _ := out["error"].(string); !strings.Contains(msg, "pending") {
		t.Errorf("error = %q, want current status named", msg)
	}

	// Walk to approved so finalize is status-legal.
	if _, err := svc.store.Claim(ctx, "agent"); err != nil {
		t.Fatal(err)
	}
	if err := svc.store.ReportImplemented(ctx, id, "deadbeefcafe"); err != nil {
		t.Fatal(err)
	}
	if _, out = doJSON(t, srv, http.MethodPost, "/annotations/"+id+"/approve", alice, nil); out["success"] != true {
		t.Fatalf("approve: %v", out)
	}

	bob := testToken(t, "bob", false)
	if resp, _ = doJSON(t, srv, http.MethodPost, "/annotations/"+id+"/finalize", bob, nil); resp.StatusCode != http.StatusForbidden {
		t.Errorf("bob finalize: status = %d, want 403", resp.StatusCode)
	}

	if resp, out = doJSON(t, srv, http.MethodPost, "/annotations/"+id+"/finalize", alice, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("finalize: status = %d: %v", resp.StatusCode, out)
	}

	rec, err := svc.store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != annotation.StatusCompleted {
		t.Errorf("status = %q, want completed", rec.Status)
	}
}

func TestAgentEndpoints(t *testing.T) {
	svc := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()
	ctx := context.Background()

	key, err := svc.agents.Create(ctx, "builder")
	if err != nil {
		t.Fatalf("create agent key: %v", err)
	}

	alice := testToken(t, "alice", false)
	_, out := doJSON(t, srv, http.MethodPost, "/annotations", alice, map[string]string{"comment": "fix it"})
	id := out["id"].(string)

	agentReq := func(path string, body any) (*http.Response, map[string]any) {
		var buf bytes.Buffer
		if body != nil {
			json.NewEncoder(&buf).Encode(body)
		}
		req, _ := http.NewRequest(http.MethodPost, srv.URL+path, &buf)
		req.Header.Set("X-Agent-Key", key)
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("agent %s: %v", path, err)
		}
		defer resp.Body.Close()
		var m map[string]any
		json.NewDecoder(resp.Body).Decode(&m)
		return resp, m
	}

	// Claim hands out the pending annotation.
	resp, out := agentReq("/agent/claim", nil)
	if resp.StatusCode != http.StatusOK || out["found"] != true {
		t.Fatalf("claim: status = %d, body = %v", resp.StatusCode, out)
	}
	ann := out["annotation"].(map[string]any)
	if ann["id"] != id {
		t.Errorf("claimed id = %v, want %s", ann["id"], id)
	}

	// Second claim finds nothing.
	_, out = agentReq("/agent/claim", nil)
	if out["found"] != false {
		t.Errorf("second claim: %v", out)
	}

	// Report implemented.
	resp, _ = agentReq("/agent/annotations/"+id+"/implemented", map[string]string{"commit_sha": "deadbeefcafe"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("implemented: status = %d", resp.StatusCode)
	}
	rec, _ := svc.store.Get(ctx, id)
	if rec.Status != annotation.StatusImplemented || rec.CommitSHA != "deadbeefcafe" {
		t.Errorf("record after report: %+v", rec)
	}

	// Wrong key is rejected.
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/agent/claim", nil)
	req.Header.Set("X-Agent-Key", "agk_wrong")
	badResp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	badResp.Body.Close()
	if badResp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad key: status = %d, want 401", badResp.StatusCode)
	}
}

// TestRemoteAdapterAgainstService drives the service through the HTTP
// adapter the review controller uses, covering the wire contract from both
// ends.
func TestRemoteAdapterAgainstService(t *testing.T) {
	svc := newTestService(t)
	srv := httptest.NewServer(svc.Router())
	defer srv.Close()
	ctx := context.Background()

	adapter, err := remote.NewHTTP(srv.URL)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	alice := testToken(t, "alice", false)

	tv, err := adapter.ValidateToken(ctx, alice)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if tv.Name != "alice" || tv.IsAdmin {
		t.Errorf("validation = %+v", tv)
	}

	rec, err := svc.Submit(ctx, &Claims{Name: "alice"}, SubmitRequest{Comment: "fix it"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	list, err := adapter.FetchAnnotations(ctx, alice, true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(list) != 1 || list[0].ID != rec.ID || !list[0].IsOwn {
		t.Fatalf("fetched = %+v", list)
	}
	if list[0].Status != annotation.StatusPending {
		t.Errorf("status = %q", list[0].Status)
	}

	// Approve while pending fails with the service's message verbatim.
	err = adapter.ApproveAnnotation(ctx, alice, rec.ID)
	if err == nil || !strings.Contains(err.Error(), "pending") {
		t.Errorf("approve pending via adapter: err = %v", err)
	}

	// Cancel works and the next fetch reflects it.
	if err := adapter.CancelAnnotation(ctx, alice, rec.ID, "withdrawn"); err != nil {
		t.Fatalf("cancel via adapter: %v", err)
	}
	list, err = adapter.FetchAnnotations(ctx, alice, true)
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if list[0].Status != annotation.StatusRejected {
		t.Errorf("status after cancel = %q, want rejected", list[0].Status)
	}
}
