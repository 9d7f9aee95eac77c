package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TimurManjosov/postguard/internal/audit"
	"github.com/TimurManjosov/postguard/internal/auth"
	"github.com/TimurManjosov/postguard/internal/gate"
	"github.com/TimurManjosov/postguard/internal/snapshot"
	"github.com/TimurManjosov/postguard/internal/store"
)

const (
	testAdminKey = "test-key"
	// httptest.NewRequest uses 192.0.2.1 as the remote address.
	visitorAddr = "192.0.2.1"
)

type testEnv struct {
	st      *store.MemoryStore
	srv     *Server
	handler http.Handler
	audit   *audit.Service
}

// newTestEnv creates a server on a memory store with rules as the stored
// rule text and publishes it.
func newTestEnv(t *testing.T, rules string) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	st := store.NewMemoryStore()
	if _, err := st.UpdateBlockedIPs(context.Background(), rules); err != nil {
		t.Fatalf("UpdateBlockedIPs failed: %v", err)
	}

	svc := audit.NewService(audit.NewMemorySink(100), audit.Options{Logger: logger})
	t.Cleanup(func() { _ = svc.Close() })

	srv := NewServer(Options{
		Store:  st,
		Audit:  svc,
		Auth:   auth.NewAuthenticator(testAdminKey, ""),
		Logger: logger,
	})
	if err := srv.RebuildSnapshot(context.Background()); err != nil {
		t.Fatalf("RebuildSnapshot failed: %v", err)
	}
	return &testEnv{st: st, srv: srv, handler: srv.Router(), audit: svc}
}

func (e *testEnv) createPost(t *testing.T, title string, blocked bool) *store.Post {
	t.Helper()
	p, err := e.st.UpsertPost(context.Background(), store.UpsertPostParams{
		Title:        title,
		Content:      "body of " + title,
		Blocked:      blocked,
		CommentsOpen: true,
	})
	if err != nil {
		t.Fatalf("UpsertPost failed: %v", err)
	}
	return p
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func adminRequest(method, target string, body any) *http.Request {
	var buf io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, buf)
	req.Header.Set("Authorization", "Bearer "+testAdminKey)
	return req
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	return resp
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if rr.Body.String() != "ok" {
		t.Errorf("Expected body 'ok', got %s", rr.Body.String())
	}
}

func TestListPosts_HidesFlaggedPostsFromBlockedVisitor(t *testing.T) {
	env := newTestEnv(t, "192.0.2.*")
	env.createPost(t, "open", false)
	env.createPost(t, "flagged", true)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/v1/posts", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var resp listPostsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Posts) != 1 || resp.Posts[0].Title != "open" {
		t.Errorf("Expected only the open post, got %+v", resp.Posts)
	}
}

func TestListPosts_AllowedVisitorSeesEverything(t *testing.T) {
	env := newTestEnv(t, "10.0.0.0/8")
	env.createPost(t, "open", false)
	env.createPost(t, "flagged", true)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/v1/posts", nil))

	var resp listPostsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Posts) != 2 {
		t.Errorf("Expected 2 posts, got %d", len(resp.Posts))
	}
}

func TestGetPost_GatedForBlockedVisitor(t *testing.T) {
	env := newTestEnv(t, visitorAddr)
	p := env.createPost(t, "secret", true)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/v1/posts/"+p.ID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var view gate.PostView
	if err := json.NewDecoder(rr.Body).Decode(&view); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !view.Gated {
		t.Error("Expected post to be gated")
	}
	if view.Title != gate.DefaultTitle || view.Content != gate.DefaultMessage {
		t.Errorf("Expected placeholder, got %q / %q", view.Title, view.Content)
	}
	if view.CommentsOpen {
		t.Error("Expected comments to be closed")
	}
	if view.Redirect == nil || view.Redirect.URL != "/" || view.Redirect.DelayMS != 3000 {
		t.Errorf("Expected redirect to / after 3000ms, got %+v", view.Redirect)
	}
}

func TestGetPost_UnflaggedPostNotGated(t *testing.T) {
	env := newTestEnv(t, visitorAddr)
	p := env.createPost(t, "public", false)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/v1/posts/"+p.ID, nil))

	var view gate.PostView
	if err := json.NewDecoder(rr.Body).Decode(&view); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if view.Gated || view.Title != "public" || !view.CommentsOpen || view.Redirect != nil {
		t.Errorf("Expected untouched post, got %+v", view)
	}
}

func TestGetPost_NotFound(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(httptest.NewRequest(http.MethodGet, "/v1/posts/missing", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("Expected status 404, got %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Code != ErrCodeNotFound {
		t.Errorf("Expected code %s, got %s", ErrCodeNotFound, resp.Code)
	}
}

func TestPostPage_GatedRendersPlaceholderAndRedirect(t *testing.T) {
	env := newTestEnv(t, "192.0.2.0/24")
	p := env.createPost(t, "secret title", true)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/posts/"+p.ID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected text/html, got %s", ct)
	}
	if cc := rr.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Expected Cache-Control no-store, got %s", cc)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "<title>Content Blocked</title>") {
		t.Error("Expected placeholder title")
	}
	if strings.Contains(body, "secret title") || strings.Contains(body, "body of") {
		t.Error("Gated page leaked the original post")
	}
	if strings.Contains(body, `id="comments"`) {
		t.Error("Expected comments section to be omitted")
	}
	if !strings.Contains(body, `window.location.href = "/"`) || !strings.Contains(body, "3000") {
		t.Errorf("Expected redirect script, got %s", body)
	}
}

func TestPostPage_OpenPostHasComments(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.createPost(t, "hello", true)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/posts/"+p.ID, nil))

	body := rr.Body.String()
	if !strings.Contains(body, "<h1>hello</h1>") {
		t.Error("Expected original title")
	}
	if !strings.Contains(body, `id="comments"`) {
		t.Error("Expected comments section")
	}
	if strings.Contains(body, "<script>") {
		t.Error("Expected no redirect script")
	}
}

func TestGetPost_TrustProxyHeaders(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	st := store.NewMemoryStore()
	_, _ = st.UpdateBlockedIPs(context.Background(), "203.0.113.7")
	srv := NewServer(Options{Store: st, Logger: logger, TrustProxyHeaders: true})
	if err := srv.RebuildSnapshot(context.Background()); err != nil {
		t.Fatalf("RebuildSnapshot failed: %v", err)
	}
	p, _ := st.UpsertPost(context.Background(), store.UpsertPostParams{Title: "t", Blocked: true})

	req := httptest.NewRequest(http.MethodGet, "/v1/posts/"+p.ID, nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	var view gate.PostView
	if err := json.NewDecoder(rr.Body).Decode(&view); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !view.Gated {
		t.Error("Expected forwarded address to be gated")
	}
}

func TestAdmin_Unauthorized(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(httptest.NewRequest(http.MethodGet, "/v1/admin/settings/blocked-ips", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("Expected status 401, got %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Code != ErrCodeUnauthorized {
		t.Errorf("Expected code %s, got %s", ErrCodeUnauthorized, resp.Code)
	}
}

func TestAdmin_InvalidToken(t *testing.T) {
	env := newTestEnv(t, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/settings/blocked-ips", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr := env.do(req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("Expected status 403, got %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Code != ErrCodeForbidden {
		t.Errorf("Expected code %s, got %s", ErrCodeForbidden, resp.Code)
	}
}

func TestBlockedIPs_GetReportsDiagnostics(t *testing.T) {
	env := newTestEnv(t, "10.0.0.1\n10.0.*\nnot-an-ip/99")

	rr := env.do(adminRequest(http.MethodGet, "/v1/admin/settings/blocked-ips", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var resp blockedIPsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.ETag == "" || rr.Header().Get("ETag") != resp.ETag {
		t.Errorf("Expected matching ETag header and body, got %q / %q", rr.Header().Get("ETag"), resp.ETag)
	}
	if len(resp.Rules) != 3 {
		t.Errorf("Expected 3 rules, got %d", len(resp.Rules))
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Line != 3 {
		t.Errorf("Expected one error on line 3, got %+v", resp.Errors)
	}
}

func TestBlockedIPs_PutRebuildsSnapshot(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.createPost(t, "flagged", true)
	before := snapshot.Load().ETag

	rr := env.do(adminRequest(http.MethodPut, "/v1/admin/settings/blocked-ips",
		map[string]string{"blockedIps": "192.0.2.0/24\n"}))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp blockedIPsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.ETag == before {
		t.Error("Expected ETag to change")
	}
	if snapshot.Load().ETag != resp.ETag {
		t.Error("Expected the published snapshot to carry the new ETag")
	}

	// The next public request sees the new rules.
	view := env.do(httptest.NewRequest(http.MethodGet, "/v1/posts/"+p.ID, nil))
	if !strings.Contains(view.Body.String(), `"gated":true`) {
		t.Errorf("Expected post to be gated after rule update, got %s", view.Body.String())
	}

	settings, _ := env.st.GetSettings(context.Background())
	if settings.BlockedIPs != "192.0.2.0/24\n" {
		t.Errorf("Expected stored text to be kept verbatim, got %q", settings.BlockedIPs)
	}
}

func TestBlockedIPs_PutKeepsInvalidLines(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(adminRequest(http.MethodPut, "/v1/admin/settings/blocked-ips",
		map[string]string{"blockedIps": "1.2.3.4/40"}))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var resp blockedIPsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Errors) != 1 {
		t.Errorf("Expected the invalid line to be reported, got %+v", resp.Errors)
	}
}

func TestBlockedIPs_PutMissingField(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(adminRequest(http.MethodPut, "/v1/admin/settings/blocked-ips", map[string]string{}))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", rr.Code)
	}
	resp := decodeError(t, rr)
	if resp.Code != ErrCodeValidation || resp.Fields["blockedIps"] == "" {
		t.Errorf("Expected blockedIps validation error, got %+v", resp)
	}
}

func TestBlockedIPs_PutInvalidJSON(t *testing.T) {
	env := newTestEnv(t, "")

	req := httptest.NewRequest(http.MethodPut, "/v1/admin/settings/blocked-ips", strings.NewReader("{not json"))
	req.Header.Set("Authorization", "Bearer "+testAdminKey)
	rr := env.do(req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Code != ErrCodeInvalidJSON {
		t.Errorf("Expected code %s, got %s", ErrCodeInvalidJSON, resp.Code)
	}
}

func TestBlockedIPs_PutTooLarge(t *testing.T) {
	env := newTestEnv(t, "")
	env.srv.opts.MaxRulesBytes = 16

	rr := env.do(adminRequest(http.MethodPut, "/v1/admin/settings/blocked-ips",
		map[string]string{"blockedIps": strings.Repeat("1.2.3.4\n", 10)}))

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected status 413, got %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Code != ErrCodeRequestTooLarge {
		t.Errorf("Expected code %s, got %s", ErrCodeRequestTooLarge, resp.Code)
	}
}

func TestBlockedIPs_Validate(t *testing.T) {
	env := newTestEnv(t, "")
	before := snapshot.Load().ETag

	rr := env.do(adminRequest(http.MethodPost, "/v1/admin/settings/blocked-ips/validate",
		map[string]string{"blockedIps": "10.0.0.1\n10.*.*.*\n10.0.0.0/8"}))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var resp validateResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Valid {
		t.Errorf("Expected valid rules, got errors %+v", resp.Errors)
	}
	if len(resp.Rules) != 3 {
		t.Errorf("Expected 3 rules, got %d", len(resp.Rules))
	}
	if snapshot.Load().ETag != before {
		t.Error("Validate must not publish rules")
	}
}

func TestCheck(t *testing.T) {
	env := newTestEnv(t, "10.0.0.0/8")

	rr := env.do(adminRequest(http.MethodGet, "/v1/admin/check?ip=10.1.2.3", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var d gate.Decision
	if err := json.NewDecoder(rr.Body).Decode(&d); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !d.Blocked || d.Rule == nil || d.Rule.Raw != "10.0.0.0/8" {
		t.Errorf("Expected match on 10.0.0.0/8, got %+v", d)
	}

	rr = env.do(adminRequest(http.MethodGet, "/v1/admin/check", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without ip, got %d", rr.Code)
	}
}

func TestAdminPosts_CreateUpdateDelete(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(adminRequest(http.MethodPost, "/v1/admin/posts",
		map[string]any{"title": "  first  ", "content": "hello"}))
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created store.Post
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if created.ID == "" || created.Title != "first" || !created.CommentsOpen || created.Blocked {
		t.Errorf("Unexpected created post %+v", created)
	}

	rr = env.do(adminRequest(http.MethodPut, "/v1/admin/posts/"+created.ID,
		map[string]any{"title": "renamed", "blocked": true, "commentsOpen": false}))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	got, _ := env.st.GetPost(context.Background(), created.ID)
	if got.Title != "renamed" || !got.Blocked || got.CommentsOpen {
		t.Errorf("Unexpected updated post %+v", got)
	}

	rr = env.do(adminRequest(http.MethodDelete, "/v1/admin/posts/"+created.ID, nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", rr.Code)
	}
	if _, err := env.st.GetPost(context.Background(), created.ID); err != store.ErrNotFound {
		t.Errorf("Expected post to be deleted, got %v", err)
	}

	// idempotent
	rr = env.do(adminRequest(http.MethodDelete, "/v1/admin/posts/"+created.ID, nil))
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status 204 on repeated delete, got %d", rr.Code)
	}
}

func TestAdminPosts_CreateRequiresTitle(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(adminRequest(http.MethodPost, "/v1/admin/posts", map[string]any{"title": " "}))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Fields["title"] == "" {
		t.Errorf("Expected title field error, got %+v", resp)
	}
}

func TestAdminPosts_UpdateRejectsInvalidID(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(adminRequest(http.MethodPut, "/v1/admin/posts/bad.id", map[string]any{"title": "ok"}))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Fields["id"] == "" {
		t.Errorf("Expected id field error, got %+v", resp)
	}
}

func TestAdminPosts_ListIncludesFlagged(t *testing.T) {
	env := newTestEnv(t, visitorAddr)
	env.createPost(t, "open", false)
	env.createPost(t, "flagged", true)

	rr := env.do(adminRequest(http.MethodGet, "/v1/admin/posts", nil))

	var resp listPostsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Posts) != 2 {
		t.Errorf("Expected admin listing to be unfiltered, got %d posts", len(resp.Posts))
	}
}

func TestAdminPosts_ListByBlockingFlag(t *testing.T) {
	env := newTestEnv(t, "")
	open := env.createPost(t, "open", false)
	flagged := env.createPost(t, "flagged", true)

	tests := []struct {
		query string
		want  []string
	}{
		{"?blocked=true", []string{flagged.ID}},
		{"?blocked=1", []string{flagged.ID}},
		{"?blocked=false", []string{open.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rr := env.do(adminRequest(http.MethodGet, "/v1/admin/posts"+tt.query, nil))
			if rr.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", rr.Code)
			}
			var resp listPostsResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if len(resp.Posts) != len(tt.want) {
				t.Fatalf("Expected %d posts, got %+v", len(tt.want), resp.Posts)
			}
			for i, id := range tt.want {
				if resp.Posts[i].ID != id {
					t.Errorf("posts[%d] = %s, want %s", i, resp.Posts[i].ID, id)
				}
			}
		})
	}
}

func TestAdminPosts_ListRejectsBadBlockedFlag(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(adminRequest(http.MethodGet, "/v1/admin/posts?blocked=maybe", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", rr.Code)
	}
	if resp := decodeError(t, rr); resp.Code != ErrCodeValidation || resp.Fields["blocked"] == "" {
		t.Errorf("Expected blocked validation error, got %+v", resp)
	}
}

func TestAdminPosts_SetBlocking(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.createPost(t, "post", false)

	rr := env.do(adminRequest(http.MethodPut, "/v1/admin/posts/"+p.ID+"/blocking", map[string]bool{"blocked": true}))
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	got, _ := env.st.GetPost(context.Background(), p.ID)
	if !got.Blocked {
		t.Error("Expected blocking to be enabled")
	}

	rr = env.do(adminRequest(http.MethodPut, "/v1/admin/posts/"+p.ID+"/blocking", map[string]any{}))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without blocked, got %d", rr.Code)
	}

	rr = env.do(adminRequest(http.MethodPut, "/v1/admin/posts/missing/blocking", map[string]bool{"blocked": true}))
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for missing post, got %d", rr.Code)
	}
}

func TestAudit_RecordsAdminActions(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.createPost(t, "post", false)

	env.do(adminRequest(http.MethodPut, "/v1/admin/posts/"+p.ID+"/blocking", map[string]bool{"blocked": true}))
	env.do(adminRequest(http.MethodPut, "/v1/admin/settings/blocked-ips", map[string]string{"blockedIps": "10.0.0.1"}))

	unauth := httptest.NewRequest(http.MethodGet, "/v1/admin/posts", nil)
	unauth.Header.Set("Authorization", "Bearer nope")
	env.do(unauth)

	var events []audit.Event
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rr := env.do(adminRequest(http.MethodGet, "/v1/admin/audit?limit=10", nil))
		var resp listAuditResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		events = resp.Events
		if len(events) >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 audit events, got %d", len(events))
	}

	// newest first
	if events[0].Action != audit.ActionAuthFailed || events[0].Status != audit.StatusFailure {
		t.Errorf("Expected failed auth first, got %s/%s", events[0].Action, events[0].Status)
	}
	if events[1].ResourceType != audit.ResourceTypeBlockedIPs || events[1].Actor != auth.ActorAdmin {
		t.Errorf("Expected rule update by admin, got %+v", events[1])
	}
	if events[2].Action != audit.ActionBlocked || events[2].ResourceID != p.ID {
		t.Errorf("Expected post blocked event, got %+v", events[2])
	}
	if events[2].Source.IPAddress != visitorAddr {
		t.Errorf("Expected source address %s, got %s", visitorAddr, events[2].Source.IPAddress)
	}
}

func TestAudit_InvalidLimit(t *testing.T) {
	env := newTestEnv(t, "")

	for _, limit := range []string{"0", "abc", "501"} {
		rr := env.do(adminRequest(http.MethodGet, "/v1/admin/audit?limit="+limit, nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected status 400, got %d", limit, rr.Code)
		}
	}
}

func TestRebuildSnapshot_FollowsStore(t *testing.T) {
	env := newTestEnv(t, "")

	if _, err := env.st.UpdateBlockedIPs(context.Background(), visitorAddr); err != nil {
		t.Fatalf("UpdateBlockedIPs failed: %v", err)
	}
	if snapshot.Load().Blocked(visitorAddr) {
		t.Fatal("Expected snapshot to be stale before rebuild")
	}
	if err := env.srv.RebuildSnapshot(context.Background()); err != nil {
		t.Fatalf("RebuildSnapshot failed: %v", err)
	}
	if !snapshot.Load().Blocked(visitorAddr) {
		t.Error("Expected visitor to be blocked after rebuild")
	}
}

func TestRateLimit(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	srv := NewServer(Options{Store: store.NewMemoryStore(), Logger: logger, RateLimitPerIP: 2})
	handler := srv.Router()

	var last int
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/posts", nil))
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("Expected status 429 on third request, got %d", last)
	}
}
