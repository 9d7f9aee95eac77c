package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a post does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for post and settings persistence.
// Implementations must be thread-safe and support concurrent access.
type Store interface {
	// ListPosts returns posts newest first.
	// Returns an empty slice if no posts are found.
	ListPosts(ctx context.Context, opts ListOptions) ([]Post, error)

	// GetPost retrieves a single post by ID.
	// Returns ErrNotFound if the post does not exist.
	GetPost(ctx context.Context, id string) (*Post, error)

	// UpsertPost creates a post, or updates it when params.ID names an
	// existing one. A new UUID is assigned when params.ID is empty.
	UpsertPost(ctx context.Context, params UpsertPostParams) (*Post, error)

	// SetPostBlocked toggles the per-post blocking flag.
	// Returns ErrNotFound if the post does not exist.
	SetPostBlocked(ctx context.Context, id string, blocked bool) (*Post, error)

	// DeletePost removes a post by ID.
	// Returns no error if the post doesn't exist (idempotent).
	DeletePost(ctx context.Context, id string) error

	// ListBlockedPostIDs returns the IDs of all posts with blocking enabled.
	ListBlockedPostIDs(ctx context.Context) ([]string, error)

	// GetSettings returns the site-wide settings. A store that has never been
	// written returns zero Settings.
	GetSettings(ctx context.Context) (Settings, error)

	// UpdateBlockedIPs replaces the raw blocked IP rule text.
	UpdateBlockedIPs(ctx context.Context, text string) (Settings, error)

	// Close releases any resources held by the store.
	// After Close is called, the store should not be used.
	Close() error
}

// Post is a content item that can be individually flagged for IP blocking.
type Post struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Blocked      bool      `json:"blocked"`      // blocking enabled for this post
	CommentsOpen bool      `json:"commentsOpen"` // discussion enabled when not gated
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UpsertPostParams contains the parameters for upserting a post.
type UpsertPostParams struct {
	ID           string `json:"id,omitempty"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	Blocked      bool   `json:"blocked"`
	CommentsOpen bool   `json:"commentsOpen"`
}

// ListOptions filters ListPosts.
type ListOptions struct {
	// ExcludeBlocked drops posts with blocking enabled.
	ExcludeBlocked bool
}

// Settings holds the site-wide blocking configuration.
type Settings struct {
	BlockedIPs string    `json:"blockedIps"` // one rule per line
	UpdatedAt  time.Time `json:"updatedAt"`
}
