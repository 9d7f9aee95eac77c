package api

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/TimurManjosov/postguard/internal/audit"
	"github.com/TimurManjosov/postguard/internal/gate"
	"github.com/TimurManjosov/postguard/internal/store"
	"github.com/TimurManjosov/postguard/internal/validation"
)

const maxPostBytes = 1 << 20 // 1 MB

type listPostsResponse struct {
	Posts []store.Post `json:"posts"`
}

// handleListPosts serves the home listing. Blocked visitors do not see
// posts with blocking enabled.
func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.store.ListPosts(r.Context(), s.gate.ListingOptions(s.clientAddr(r)))
	if err != nil {
		s.logger.WithError(err).Error("list posts")
		InternalError(w, r, "Failed to list posts")
		return
	}
	writeJSON(w, http.StatusOK, listPostsResponse{Posts: posts})
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	view, ok := s.viewPost(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, view)
}

var postPage = template.Must(template.New("post").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<article>
<h1>{{.Title}}</h1>
<div class="content">{{.Content}}</div>
</article>
{{if .CommentsOpen}}<section id="comments" data-post="{{.ID}}"></section>
{{end}}{{if .Script}}<script>{{.Script}}</script>
{{end}}</body>
</html>
`))

type postPageData struct {
	gate.PostView
	Script template.JS
}

// handlePostPage renders a post as HTML. A gated post shows the placeholder
// and sends the browser home after the configured delay.
func (s *Server) handlePostPage(w http.ResponseWriter, r *http.Request) {
	view, ok := s.viewPost(w, r)
	if !ok {
		return
	}

	data := postPageData{PostView: view}
	if view.Redirect != nil {
		// RedirectScript emits the URL as an escaped JSON literal.
		data.Script = template.JS(view.Redirect.Script())
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := postPage.Execute(w, data); err != nil {
		s.logger.WithError(err).Error("render post page")
	}
}

func (s *Server) viewPost(w http.ResponseWriter, r *http.Request) (gate.PostView, bool) {
	id := chi.URLParam(r, "id")
	post, err := s.store.GetPost(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err, id, "Failed to load post")
		return gate.PostView{}, false
	}
	return s.gate.View(*post, s.clientAddr(r)), true
}

// ---- admin ----

type upsertPostRequest struct {
	Title        string `json:"title"`
	Content      string `json:"content"`
	Blocked      bool   `json:"blocked"`
	CommentsOpen *bool  `json:"commentsOpen,omitempty"` // defaults to true
}

type setBlockingRequest struct {
	Blocked *bool `json:"blocked"`
}

// handleAdminListPosts lists every post. The optional blocked query
// parameter restricts the listing to posts with blocking enabled (true) or
// disabled (false).
func (s *Server) handleAdminListPosts(w http.ResponseWriter, r *http.Request) {
	var (
		posts []store.Post
		err   error
	)
	switch q := r.URL.Query().Get("blocked"); q {
	case "":
		posts, err = s.store.ListPosts(r.Context(), store.ListOptions{})
	default:
		blocked, perr := strconv.ParseBool(q)
		if perr != nil {
			ValidationError(w, r, "Validation failed", map[string]string{"blocked": "Blocked must be true or false"})
			return
		}
		if blocked {
			posts, err = s.blockedPosts(r.Context())
		} else {
			posts, err = s.store.ListPosts(r.Context(), store.ListOptions{ExcludeBlocked: true})
		}
	}
	if err != nil {
		s.logger.WithError(err).Error("list posts")
		InternalError(w, r, "Failed to list posts")
		return
	}
	writeJSON(w, http.StatusOK, listPostsResponse{Posts: posts})
}

// blockedPosts loads the posts with blocking enabled. Posts deleted between
// the ID query and the lookup are skipped.
func (s *Server) blockedPosts(ctx context.Context) ([]store.Post, error) {
	ids, err := s.store.ListBlockedPostIDs(ctx)
	if err != nil {
		return nil, err
	}
	posts := make([]store.Post, 0, len(ids))
	for _, id := range ids {
		post, err := s.store.GetPost(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		posts = append(posts, *post)
	}
	return posts, nil
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req upsertPostRequest
	if !decodeJSON(w, r, maxPostBytes, &req) {
		return
	}
	if !validatePost(w, r, "", req) {
		return
	}

	post, err := s.store.UpsertPost(r.Context(), req.params(""))
	if err != nil {
		s.logger.WithError(err).Error("create post")
		InternalError(w, r, "Failed to create post")
		return
	}

	s.audit.Log(audit.NewEventBuilder(r, s.clientAddr(r)).
		ForResource(audit.ResourceTypePost, post.ID).
		WithAction(audit.ActionCreated).
		WithAfterState(postState(post)).
		Build())

	writeJSON(w, http.StatusCreated, post)
}

// handleUpdatePost replaces a post, creating it under the given ID if it
// does not exist yet.
func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req upsertPostRequest
	if !decodeJSON(w, r, maxPostBytes, &req) {
		return
	}
	if !validatePost(w, r, id, req) {
		return
	}

	before, err := s.store.GetPost(r.Context(), id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.WithError(err).WithField("post_id", id).Error("get post")
		InternalError(w, r, "Failed to load post")
		return
	}

	post, err := s.store.UpsertPost(r.Context(), req.params(id))
	if err != nil {
		s.logger.WithError(err).WithField("post_id", id).Error("update post")
		InternalError(w, r, "Failed to update post")
		return
	}

	action := audit.ActionUpdated
	if before == nil {
		action = audit.ActionCreated
	}
	s.audit.Log(audit.NewEventBuilder(r, s.clientAddr(r)).
		ForResource(audit.ResourceTypePost, post.ID).
		WithAction(action).
		WithBeforeState(postState(before)).
		WithAfterState(postState(post)).
		Build())

	writeJSON(w, http.StatusOK, post)
}

func (s *Server) handleSetBlocking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req setBlockingRequest
	if !decodeJSON(w, r, maxPostBytes, &req) {
		return
	}
	if req.Blocked == nil {
		ValidationError(w, r, "Validation failed", map[string]string{"blocked": "Blocked is required"})
		return
	}

	before, err := s.store.GetPost(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err, id, "Failed to update post")
		return
	}
	post, err := s.store.SetPostBlocked(r.Context(), id, *req.Blocked)
	if err != nil {
		s.writeStoreError(w, r, err, id, "Failed to update post")
		return
	}

	action := audit.ActionUnblocked
	if post.Blocked {
		action = audit.ActionBlocked
	}
	s.audit.Log(audit.NewEventBuilder(r, s.clientAddr(r)).
		ForResource(audit.ResourceTypePost, post.ID).
		WithAction(action).
		WithBeforeState(map[string]any{"blocked": before.Blocked}).
		WithAfterState(map[string]any{"blocked": post.Blocked}).
		Build())

	writeJSON(w, http.StatusOK, post)
}

// writeStoreError maps store errors to responses: ErrNotFound becomes 404,
// anything else is logged and reported as 500 with message.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error, postID, message string) {
	if errors.Is(err, store.ErrNotFound) {
		NotFoundError(w, r, "Post not found")
		return
	}
	s.logger.WithError(err).WithField("post_id", postID).Error(message)
	InternalError(w, r, message)
}

// handleDeletePost removes a post. Deleting a missing post succeeds.
func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	before, err := s.store.GetPost(r.Context(), id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.WithError(err).WithField("post_id", id).Error("get post")
		InternalError(w, r, "Failed to load post")
		return
	}
	if err := s.store.DeletePost(r.Context(), id); err != nil {
		s.logger.WithError(err).WithField("post_id", id).Error("delete post")
		InternalError(w, r, "Failed to delete post")
		return
	}

	if before != nil {
		s.audit.Log(audit.NewEventBuilder(r, s.clientAddr(r)).
			ForResource(audit.ResourceTypePost, id).
			WithAction(audit.ActionDeleted).
			WithBeforeState(postState(before)).
			Build())
	}
	w.WriteHeader(http.StatusNoContent)
}

func validatePost(w http.ResponseWriter, r *http.Request, id string, req upsertPostRequest) bool {
	result := validation.ValidatePost(validation.PostValidationParams{
		ID:      id,
		Title:   req.Title,
		Content: req.Content,
	})
	if !result.Valid {
		ValidationError(w, r, "Validation failed", result.Errors)
		return false
	}
	return true
}

func (req upsertPostRequest) params(id string) store.UpsertPostParams {
	commentsOpen := true
	if req.CommentsOpen != nil {
		commentsOpen = *req.CommentsOpen
	}
	return store.UpsertPostParams{
		ID:           id,
		Title:        strings.TrimSpace(req.Title),
		Content:      req.Content,
		Blocked:      req.Blocked,
		CommentsOpen: commentsOpen,
	}
}

// postState converts a post to a map for audit logging.
// Returns nil if the post is nil.
func postState(p *store.Post) map[string]any {
	if p == nil {
		return nil
	}
	return map[string]any{
		"title":        p.Title,
		"blocked":      p.Blocked,
		"commentsOpen": p.CommentsOpen,
		"updatedAt":    p.UpdatedAt.Format(time.RFC3339),
	}
}
