// Package api serves the public post endpoints, gated by the blocking rules,
// and the admin API managing posts and rules.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/sirupsen/logrus"

	"github.com/TimurManjosov/postguard/internal/audit"
	"github.com/TimurManjosov/postguard/internal/auth"
	"github.com/TimurManjosov/postguard/internal/clientip"
	"github.com/TimurManjosov/postguard/internal/gate"
	"github.com/TimurManjosov/postguard/internal/ipmatch"
	"github.com/TimurManjosov/postguard/internal/logging"
	"github.com/TimurManjosov/postguard/internal/snapshot"
	"github.com/TimurManjosov/postguard/internal/store"
	"github.com/TimurManjosov/postguard/internal/telemetry"
)

const (
	requestTimeout       = 5 * time.Second
	defaultMaxRulesBytes = 64 * 1024
)

// Options wires the server's collaborators and tunables.
type Options struct {
	Store  store.Store
	Audit  *audit.Service
	Auth   *auth.Authenticator
	Logger logrus.FieldLogger

	// Gate configures the placeholder for blocked visitors. Its Logger is
	// set from Logger.
	Gate gate.Options

	TrustProxyHeaders bool
	AlignSubnet       bool
	RateLimitPerIP    int   // requests per minute; 0 disables limiting
	MaxRulesBytes     int64 // upper bound for rule text updates
}

type Server struct {
	store  store.Store
	audit  *audit.Service
	auth   *auth.Authenticator
	gate   *gate.Gate
	logger logrus.FieldLogger
	opts   Options
}

// NewServer creates a server. Nil Audit and Auth fall back to an in-memory
// audit trail and an authenticator that rejects every token.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewService(audit.NewMemorySink(0), audit.Options{Logger: opts.Logger})
	}
	if opts.Auth == nil {
		opts.Auth = auth.NewAuthenticator("", "")
	}
	if opts.MaxRulesBytes <= 0 {
		opts.MaxRulesBytes = defaultMaxRulesBytes
	}
	opts.Gate.Logger = opts.Logger

	return &Server{
		store:  opts.Store,
		audit:  opts.Audit,
		auth:   opts.Auth,
		gate:   gate.New(func() *ipmatch.RuleList { return snapshot.Load().Rules }, opts.Gate),
		logger: opts.Logger,
		opts:   opts,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer)
	r.Use(telemetry.Middleware)
	r.Use(logging.Middleware(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// public
	r.Group(func(r chi.Router) {
		if s.opts.RateLimitPerIP > 0 {
			r.Use(httprate.Limit(s.opts.RateLimitPerIP, time.Minute,
				httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
					return s.clientAddr(r), nil
				}),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					RateLimitedError(w, r)
				}),
			))
		}
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/v1/posts", s.handleListPosts)
		r.Get("/v1/posts/{id}", s.handleGetPost)
		r.Get("/posts/{id}", s.handlePostPage)
	})

	// admin
	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(s.auth.RequireAdmin(s.writeAuthError))

		// long-lived; no request timeout
		r.Get("/rules/stream", s.handleRulesStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			r.Get("/settings/blocked-ips", s.handleGetBlockedIPs)
			r.Put("/settings/blocked-ips", s.handlePutBlockedIPs)
			r.Post("/settings/blocked-ips/validate", s.handleValidateBlockedIPs)
			r.Get("/check", s.handleCheck)

			r.Get("/posts", s.handleAdminListPosts)
			r.Post("/posts", s.handleCreatePost)
			r.Put("/posts/{id}", s.handleUpdatePost)
			r.Put("/posts/{id}/blocking", s.handleSetBlocking)
			r.Delete("/posts/{id}", s.handleDeletePost)

			r.Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// RebuildSnapshot loads the stored rule text and swaps the atomic snapshot.
func (s *Server) RebuildSnapshot(ctx context.Context) error {
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	s.publishRules(settings.BlockedIPs)
	return nil
}

func (s *Server) publishRules(text string) *snapshot.Snapshot {
	snap := snapshot.Build(text, ipmatch.WithAlignSubnet(s.opts.AlignSubnet))
	snapshot.Update(snap)
	telemetry.ObserveRules(snap.Rules)
	if errs := snap.Rules.Errors(); len(errs) > 0 {
		s.logger.WithFields(logrus.Fields{
			"etag":   snap.ETag,
			"errors": len(errs),
		}).Warn("blocked IP rules contain lines that never match")
	}
	return snap
}

// ---- helpers ----

func (s *Server) clientAddr(r *http.Request) string {
	return clientip.FromRequest(r, s.opts.TrustProxyHeaders)
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.audit.Log(audit.NewEventBuilder(r, s.clientAddr(r)).
		ForResource(audit.ResourceTypeSystem, r.URL.Path).
		WithAction(audit.ActionAuthFailed).
		Failure(message).
		Build())

	if status == http.StatusUnauthorized {
		UnauthorizedError(w, r, message)
		return
	}
	ForbiddenError(w, r, message)
}

// decodeJSON reads a JSON body of at most limit bytes into v and writes the
// error response itself when that fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			RequestTooLargeError(w, r, fmt.Sprintf("Request body exceeds %d bytes", limit))
		case errors.Is(err, io.EOF):
			BadRequestError(w, r, ErrCodeInvalidJSON, "Request body is empty")
		default:
			BadRequestError(w, r, ErrCodeInvalidJSON, "Invalid JSON: "+err.Error())
		}
		return false
	}
	return true
}
