// Package testutil holds helpers shared by tests that need a running API.
package testutil

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/TimurManjosov/postguard/internal/api"
	"github.com/TimurManjosov/postguard/internal/auth"
	"github.com/TimurManjosov/postguard/internal/store"
)

// NewTestServer creates an API server on an in-memory store. rules is
// stored as the blocked IP list and published before returning.
func NewTestServer(t *testing.T, adminKey, rules string) (*api.Server, *store.MemoryStore) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	memStore := store.NewMemoryStore()
	if rules != "" {
		if _, err := memStore.UpdateBlockedIPs(context.Background(), rules); err != nil {
			t.Fatalf("UpdateBlockedIPs failed: %v", err)
		}
	}

	server := api.NewServer(api.Options{
		Store:  memStore,
		Auth:   auth.NewAuthenticator(adminKey, ""),
		Logger: logger,
	})
	if err := server.RebuildSnapshot(context.Background()); err != nil {
		t.Fatalf("RebuildSnapshot failed: %v", err)
	}
	return server, memStore
}

// NewHTTPServer serves NewTestServer over a real listener, closed when the
// test ends.
func NewHTTPServer(t *testing.T, adminKey, rules string) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	server, memStore := NewTestServer(t, adminKey, rules)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return ts, memStore
}

// HTTPRequest is a helper for making test HTTP requests.
type HTTPRequest struct {
	Method     string
	Path       string
	Body       string
	Headers    map[string]string
	RemoteAddr string
}

// Do executes the HTTP request and returns the response recorder.
func (r *HTTPRequest) Do(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.Body != "" {
		body = bytes.NewBufferString(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.Path, body)
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if r.RemoteAddr != "" {
		req.RemoteAddr = r.RemoteAddr
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// SeedPosts populates the store and returns the stored posts in input order.
func SeedPosts(ctx context.Context, st store.Store, posts []store.UpsertPostParams) ([]*store.Post, error) {
	out := make([]*store.Post, 0, len(posts))
	for _, p := range posts {
		post, err := st.UpsertPost(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, post)
	}
	return out, nil
}
