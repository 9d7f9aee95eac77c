package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory implementation of the Store interface.
// It uses a map for storage and RWMutex for thread-safe concurrent access.
// This implementation is suitable for development, testing, or single-instance deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	posts    map[string]Post // id -> Post
	settings Settings
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		posts: make(map[string]Post),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ListPosts returns posts newest first.
func (m *MemoryStore) ListPosts(ctx context.Context, opts ListOptions) ([]Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Post, 0, len(m.posts))
	for _, p := range m.posts {
		if opts.ExcludeBlocked && p.Blocked {
			continue
		}
		result = append(result, p)
	}
	sortNewestFirst(result)
	return result, nil
}

// GetPost retrieves a single post by ID.
func (m *MemoryStore) GetPost(ctx context.Context, id string) (*Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, exists := m.posts[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &p, nil
}

// UpsertPost creates or updates a post in memory.
func (m *MemoryStore) UpsertPost(ctx context.Context, params UpsertPostParams) (*Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}

	p, exists := m.posts[id]
	if !exists {
		p = Post{ID: id, CreatedAt: now}
	}
	p.Title = params.Title
	p.Content = params.Content
	p.Blocked = params.Blocked
	p.CommentsOpen = params.CommentsOpen
	p.UpdatedAt = now

	m.posts[id] = p
	return &p, nil
}

// SetPostBlocked toggles the blocking flag of an existing post.
func (m *MemoryStore) SetPostBlocked(ctx context.Context, id string, blocked bool) (*Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.posts[id]
	if !exists {
		return nil, ErrNotFound
	}
	p.Blocked = blocked
	p.UpdatedAt = m.now()
	m.posts[id] = p
	return &p, nil
}

// DeletePost removes a post from memory.
func (m *MemoryStore) DeletePost(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Idempotent: no error if post doesn't exist
	delete(m.posts, id)
	return nil
}

// ListBlockedPostIDs returns the IDs of posts with blocking enabled, sorted.
func (m *MemoryStore) ListBlockedPostIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0)
	for id, p := range m.posts {
		if p.Blocked {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetSettings returns the site-wide settings.
func (m *MemoryStore) GetSettings(ctx context.Context) (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings, nil
}

// UpdateBlockedIPs replaces the blocked IP rule text.
func (m *MemoryStore) UpdateBlockedIPs(ctx context.Context, text string) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings = Settings{BlockedIPs: text, UpdatedAt: m.now()}
	return m.settings, nil
}

// Close is a no-op for MemoryStore as there are no resources to release.
func (m *MemoryStore) Close() error {
	return nil
}

func sortNewestFirst(posts []Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		if posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].ID < posts[j].ID
		}
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
}
