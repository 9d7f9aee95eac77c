package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/TimurManjosov/postguard/internal/audit"
	"github.com/TimurManjosov/postguard/internal/ipmatch"
	"github.com/TimurManjosov/postguard/internal/snapshot"
)

type blockedIPsRequest struct {
	BlockedIPs *string `json:"blockedIps"`
}

// rulesDiagnostics describes how rule text compiled.
type rulesDiagnostics struct {
	Rules  []ipmatch.Rule        `json:"rules"`
	Counts map[ipmatch.Kind]int  `json:"counts"`
	Errors []*ipmatch.ParseError `json:"errors"`
}

type blockedIPsResponse struct {
	BlockedIPs string    `json:"blockedIps"`
	ETag       string    `json:"etag"`
	UpdatedAt  time.Time `json:"updatedAt"`
	rulesDiagnostics
}

type validateResponse struct {
	Valid bool `json:"valid"`
	rulesDiagnostics
}

func diagnose(l *ipmatch.RuleList) rulesDiagnostics {
	errs := l.Errors()
	if errs == nil {
		errs = []*ipmatch.ParseError{}
	}
	return rulesDiagnostics{Rules: l.Rules(), Counts: l.Counts(), Errors: errs}
}

// handleGetBlockedIPs returns the stored rule text with its diagnostics. When
// the text was changed elsewhere (another instance sharing the database) the
// local snapshot is rebuilt first.
func (s *Server) handleGetBlockedIPs(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("get settings")
		InternalError(w, r, "Failed to load settings")
		return
	}

	snap := snapshot.Load()
	if snap.ETag != snapshot.ETag(settings.BlockedIPs) {
		snap = s.publishRules(settings.BlockedIPs)
	}

	w.Header().Set("ETag", snap.ETag)
	writeJSON(w, http.StatusOK, blockedIPsResponse{
		BlockedIPs:       settings.BlockedIPs,
		ETag:             snap.ETag,
		UpdatedAt:        settings.UpdatedAt,
		rulesDiagnostics: diagnose(snap.Rules),
	})
}

// handlePutBlockedIPs stores new rule text and swaps the snapshot. Lines that
// fail to compile are reported in the response, never rejected.
func (s *Server) handlePutBlockedIPs(w http.ResponseWriter, r *http.Request) {
	text, ok := s.decodeRuleText(w, r)
	if !ok {
		return
	}

	before, err := s.store.GetSettings(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("get settings")
		InternalError(w, r, "Failed to load settings")
		return
	}
	settings, err := s.store.UpdateBlockedIPs(r.Context(), text)
	if err != nil {
		s.logger.WithError(err).Error("update blocked ips")
		InternalError(w, r, "Failed to store blocked IPs")
		return
	}
	snap := s.publishRules(settings.BlockedIPs)

	s.audit.Log(audit.NewEventBuilder(r, s.clientAddr(r)).
		ForResource(audit.ResourceTypeBlockedIPs, "").
		WithAction(audit.ActionUpdated).
		WithBeforeState(map[string]any{"blockedIps": before.BlockedIPs, "etag": snapshot.ETag(before.BlockedIPs)}).
		WithAfterState(map[string]any{"blockedIps": settings.BlockedIPs, "etag": snap.ETag}).
		Build())

	s.logger.WithField("etag", snap.ETag).WithField("rules", snap.Rules.Len()).Info("blocked IP rules updated")

	w.Header().Set("ETag", snap.ETag)
	writeJSON(w, http.StatusOK, blockedIPsResponse{
		BlockedIPs:       settings.BlockedIPs,
		ETag:             snap.ETag,
		UpdatedAt:        settings.UpdatedAt,
		rulesDiagnostics: diagnose(snap.Rules),
	})
}

// handleValidateBlockedIPs compiles rule text without storing it.
func (s *Server) handleValidateBlockedIPs(w http.ResponseWriter, r *http.Request) {
	text, ok := s.decodeRuleText(w, r)
	if !ok {
		return
	}
	l := ipmatch.Parse(text, ipmatch.WithAlignSubnet(s.opts.AlignSubnet))
	writeJSON(w, http.StatusOK, validateResponse{
		Valid:            len(l.Errors()) == 0,
		rulesDiagnostics: diagnose(l),
	})
}

func (s *Server) decodeRuleText(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req blockedIPsRequest
	// JSON escaping can double the size of the text; 1 KB for the envelope.
	if !decodeJSON(w, r, 2*s.opts.MaxRulesBytes+1024, &req) {
		return "", false
	}
	if req.BlockedIPs == nil {
		ValidationError(w, r, "Validation failed", map[string]string{"blockedIps": "blockedIps is required"})
		return "", false
	}
	if n := int64(len(*req.BlockedIPs)); n > s.opts.MaxRulesBytes {
		RequestTooLargeError(w, r, fmt.Sprintf("Rule text is %d bytes, limit is %d", n, s.opts.MaxRulesBytes))
		return "", false
	}
	return *req.BlockedIPs, true
}

// handleCheck reports whether an address matches the current rules.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	ip := strings.TrimSpace(r.URL.Query().Get("ip"))
	if ip == "" {
		ValidationError(w, r, "Validation failed", map[string]string{"ip": "ip query parameter is required"})
		return
	}
	writeJSON(w, http.StatusOK, s.gate.Check(ip))
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

type listAuditResponse struct {
	Events []audit.Event `json:"events"`
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxAuditLimit {
			ValidationError(w, r, "Validation failed", map[string]string{
				"limit": fmt.Sprintf("limit must be between 1 and %d", maxAuditLimit),
			})
			return
		}
		limit = n
	}

	events, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("list audit events")
		InternalError(w, r, "Failed to list audit events")
		return
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Events: events})
}
