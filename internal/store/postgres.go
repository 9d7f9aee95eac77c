package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postColumns = `id, title, content, blocked, comments_open, created_at, updated_at`

// PostgresStore is a PostgreSQL implementation of the Store interface.
// Tables are created by db.EnsureSchema.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool exposes the underlying pool for components sharing the database.
func (p *PostgresStore) Pool() *pgxpool.Pool {
	return p.pool
}

// ListPosts retrieves posts newest first.
func (p *PostgresStore) ListPosts(ctx context.Context, opts ListOptions) ([]Post, error) {
	q := `SELECT ` + postColumns + ` FROM posts`
	if opts.ExcludeBlocked {
		q += ` WHERE NOT blocked`
	}
	q += ` ORDER BY created_at DESC, id ASC`

	rows, err := p.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	posts, err := pgx.CollectRows(rows, scanPost)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	if posts == nil {
		posts = []Post{}
	}
	return posts, nil
}

// GetPost retrieves a single post by ID.
func (p *PostgresStore) GetPost(ctx context.Context, id string) (*Post, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	post, err := pgx.CollectExactlyOneRow(rows, scanPost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get post: %w", err)
	}
	return &post, nil
}

// UpsertPost creates or updates a post.
func (p *PostgresStore) UpsertPost(ctx context.Context, params UpsertPostParams) (*Post, error) {
	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}

	rows, err := p.pool.Query(ctx, `
		INSERT INTO posts (id, title, content, blocked, comments_open)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			blocked = EXCLUDED.blocked,
			comments_open = EXCLUDED.comments_open,
			updated_at = now()
		RETURNING `+postColumns,
		id, params.Title, params.Content, params.Blocked, params.CommentsOpen)
	if err != nil {
		return nil, fmt.Errorf("upsert post: %w", err)
	}
	post, err := pgx.CollectExactlyOneRow(rows, scanPost)
	if err != nil {
		return nil, fmt.Errorf("upsert post: %w", err)
	}
	return &post, nil
}

// SetPostBlocked toggles the blocking flag of an existing post.
func (p *PostgresStore) SetPostBlocked(ctx context.Context, id string, blocked bool) (*Post, error) {
	rows, err := p.pool.Query(ctx,
		`UPDATE posts SET blocked = $2, updated_at = now() WHERE id = $1 RETURNING `+postColumns,
		id, blocked)
	if err != nil {
		return nil, fmt.Errorf("set post blocked: %w", err)
	}
	post, err := pgx.CollectExactlyOneRow(rows, scanPost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("set post blocked: %w", err)
	}
	return &post, nil
}

// DeletePost removes a post from the database.
func (p *PostgresStore) DeletePost(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM posts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return nil
}

// ListBlockedPostIDs returns the IDs of posts with blocking enabled.
func (p *PostgresStore) ListBlockedPostIDs(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT id FROM posts WHERE blocked ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list blocked posts: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list blocked posts: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// GetSettings returns the singleton settings row, or zero Settings when it
// has not been written yet.
func (p *PostgresStore) GetSettings(ctx context.Context) (Settings, error) {
	var (
		s         Settings
		updatedAt pgtype.Timestamptz
	)
	err := p.pool.QueryRow(ctx, `SELECT blocked_ips, updated_at FROM settings WHERE id = 1`).
		Scan(&s.BlockedIPs, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settings{}, nil
		}
		return Settings{}, fmt.Errorf("get settings: %w", err)
	}
	if updatedAt.Valid {
		s.UpdatedAt = updatedAt.Time.UTC()
	}
	return s, nil
}

// UpdateBlockedIPs replaces the blocked IP rule text.
func (p *PostgresStore) UpdateBlockedIPs(ctx context.Context, text string) (Settings, error) {
	var (
		s         Settings
		updatedAt pgtype.Timestamptz
	)
	err := p.pool.QueryRow(ctx, `
		INSERT INTO settings (id, blocked_ips, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET
			blocked_ips = EXCLUDED.blocked_ips,
			updated_at = EXCLUDED.updated_at
		RETURNING blocked_ips, updated_at`, text).Scan(&s.BlockedIPs, &updatedAt)
	if err != nil {
		return Settings{}, fmt.Errorf("update blocked ips: %w", err)
	}
	s.UpdatedAt = updatedAt.Time.UTC()
	return s, nil
}

// Close closes the database connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func scanPost(row pgx.CollectableRow) (Post, error) {
	var post Post
	var created, updated pgtype.Timestamptz
	if err := row.Scan(&post.ID, &post.Title, &post.Content, &post.Blocked, &post.CommentsOpen, &created, &updated); err != nil {
		return Post{}, err
	}
	post.CreatedAt = created.Time.UTC()
	post.UpdatedAt = updated.Time.UTC()
	return post, nil
}
