// Package client talks to the postguard admin API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/TimurManjosov/postguard/internal/audit"
	"github.com/TimurManjosov/postguard/internal/gate"
	"github.com/TimurManjosov/postguard/internal/ipmatch"
	"github.com/TimurManjosov/postguard/internal/store"
)

// Client is an HTTP client for the postguard admin API
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error (status %d, %s): %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// RuleSet is the stored rule text with its compile diagnostics.
type RuleSet struct {
	BlockedIPs string                `json:"blockedIps"`
	ETag       string                `json:"etag"`
	UpdatedAt  time.Time             `json:"updatedAt"`
	Rules      []ipmatch.Rule        `json:"rules"`
	Counts     map[ipmatch.Kind]int  `json:"counts"`
	Errors     []*ipmatch.ParseError `json:"errors"`
}

// Validation is the result of compiling rule text without storing it.
type Validation struct {
	Valid  bool                  `json:"valid"`
	Rules  []ipmatch.Rule        `json:"rules"`
	Counts map[ipmatch.Kind]int  `json:"counts"`
	Errors []*ipmatch.ParseError `json:"errors"`
}

// PostInput is the body for creating or replacing a post.
type PostInput struct {
	Title        string `json:"title"`
	Content      string `json:"content"`
	Blocked      bool   `json:"blocked"`
	CommentsOpen *bool  `json:"commentsOpen,omitempty"`
}

// GetBlockedIPs returns the stored rule text.
func (c *Client) GetBlockedIPs(ctx context.Context) (*RuleSet, error) {
	var out RuleSet
	if err := c.do(ctx, http.MethodGet, "/v1/admin/settings/blocked-ips", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetBlockedIPs replaces the rule text. Lines that fail to compile are
// stored anyway and reported in the result.
func (c *Client) SetBlockedIPs(ctx context.Context, text string) (*RuleSet, error) {
	var out RuleSet
	body := map[string]string{"blockedIps": text}
	if err := c.do(ctx, http.MethodPut, "/v1/admin/settings/blocked-ips", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ValidateBlockedIPs compiles text on the server without storing it.
func (c *Client) ValidateBlockedIPs(ctx context.Context, text string) (*Validation, error) {
	var out Validation
	body := map[string]string{"blockedIps": text}
	if err := c.do(ctx, http.MethodPost, "/v1/admin/settings/blocked-ips/validate", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Check asks the server whether ip matches the active rules.
func (c *Client) Check(ctx context.Context, ip string) (*gate.Decision, error) {
	var out gate.Decision
	path := "/v1/admin/check?" + url.Values{"ip": {ip}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPosts returns every post, including flagged ones.
func (c *Client) ListPosts(ctx context.Context) ([]store.Post, error) {
	var out struct {
		Posts []store.Post `json:"posts"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/admin/posts", nil, &out); err != nil {
		return nil, err
	}
	return out.Posts, nil
}

// ListBlockedPosts returns only the posts with blocking enabled.
func (c *Client) ListBlockedPosts(ctx context.Context) ([]store.Post, error) {
	var out struct {
		Posts []store.Post `json:"posts"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/admin/posts?blocked=true", nil, &out); err != nil {
		return nil, err
	}
	return out.Posts, nil
}

func (c *Client) CreatePost(ctx context.Context, in PostInput) (*store.Post, error) {
	var out store.Post
	if err := c.do(ctx, http.MethodPost, "/v1/admin/posts", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePost replaces the post with id, creating it if missing.
func (c *Client) UpdatePost(ctx context.Context, id string, in PostInput) (*store.Post, error) {
	var out store.Post
	if err := c.do(ctx, http.MethodPut, "/v1/admin/posts/"+url.PathEscape(id), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetPostBlocked toggles blocking for one post.
func (c *Client) SetPostBlocked(ctx context.Context, id string, blocked bool) (*store.Post, error) {
	var out store.Post
	body := map[string]bool{"blocked": blocked}
	if err := c.do(ctx, http.MethodPut, "/v1/admin/posts/"+url.PathEscape(id)+"/blocking", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeletePost(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/admin/posts/"+url.PathEscape(id), nil, nil)
}

// ListAudit returns the most recent audit events, newest first.
func (c *Client) ListAudit(ctx context.Context, limit int) ([]audit.Event, error) {
	var out struct {
		Events []audit.Event `json:"events"`
	}
	path := "/v1/admin/audit?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// do sends an authenticated request with body encoded as JSON and decodes
// a successful response into out. A nil out discards the body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(bodyBytes, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(bodyBytes))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
