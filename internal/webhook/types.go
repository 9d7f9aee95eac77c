// Package webhook notifies external endpoints of changes to posts and
// blocking rules with signed JSON POSTs.
package webhook

import (
	"time"

	"github.com/TimurManjosov/postguard/internal/audit"
)

// Event types that can trigger webhooks
const (
	EventPostCreated   = "post.created"
	EventPostUpdated   = "post.updated"
	EventPostDeleted   = "post.deleted"
	EventPostBlocked   = "post.blocked"
	EventPostUnblocked = "post.unblocked"
	EventRulesUpdated  = "rules.updated"
)

// Event is the payload delivered to endpoints.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Resource  Resource  `json:"resource"`
	Data      EventData `json:"data"`
	Metadata  Metadata  `json:"metadata"`
}

// Resource identifies the resource that triggered the event
type Resource struct {
	Type string `json:"type"` // "post" or "blocked_ips"
	ID   string `json:"id,omitempty"`
}

// EventData contains the before/after state and changes
type EventData struct {
	Before  map[string]any `json:"before,omitempty"`
	After   map[string]any `json:"after,omitempty"`
	Changes map[string]any `json:"changes,omitempty"`
}

// Metadata contains additional context about the event
type Metadata struct {
	Actor     string `json:"actor,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// FromAudit converts a successful audit event. Failed actions and events
// on other resources have no webhook counterpart.
func FromAudit(e audit.Event) (Event, bool) {
	if e.Status == audit.StatusFailure {
		return Event{}, false
	}

	var typ string
	switch e.ResourceType {
	case audit.ResourceTypePost:
		switch e.Action {
		case audit.ActionCreated:
			typ = EventPostCreated
		case audit.ActionUpdated:
			typ = EventPostUpdated
		case audit.ActionDeleted:
			typ = EventPostDeleted
		case audit.ActionBlocked:
			typ = EventPostBlocked
		case audit.ActionUnblocked:
			typ = EventPostUnblocked
		}
	case audit.ResourceTypeBlockedIPs:
		typ = EventRulesUpdated
	}
	if typ == "" {
		return Event{}, false
	}

	return Event{
		ID:        e.ID,
		Type:      typ,
		Timestamp: e.OccurredAt,
		Resource:  Resource{Type: e.ResourceType, ID: e.ResourceID},
		Data: EventData{
			Before:  e.BeforeState,
			After:   e.AfterState,
			Changes: e.Changes,
		},
		Metadata: Metadata{
			Actor:     e.Actor,
			IPAddress: e.Source.IPAddress,
			RequestID: e.RequestID,
		},
	}, true
}
