// Package snapshot keeps the compiled blocking rules for the current settings
// in an atomically swapped value, so request handlers never re-parse rule
// text.
package snapshot

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/TimurManjosov/postguard/internal/ipmatch"
)

// Snapshot is an immutable view of the rule text and its compiled form.
type Snapshot struct {
	ETag      string            `json:"etag"`
	Text      string            `json:"-"`
	Rules     *ipmatch.RuleList `json:"-"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

var current atomic.Pointer[Snapshot]

// Load returns the current snapshot, or an empty one that blocks nobody
// before the first Update.
func Load() *Snapshot {
	if s := current.Load(); s != nil {
		return s
	}
	return &Snapshot{ETag: ETag(""), Rules: ipmatch.Parse(""), UpdatedAt: time.Now().UTC()}
}

// Build compiles text into a new snapshot without publishing it.
func Build(text string, opts ...ipmatch.Option) *Snapshot {
	return &Snapshot{
		ETag:      ETag(text),
		Text:      text,
		Rules:     ipmatch.Parse(text, opts...),
		UpdatedAt: time.Now().UTC(),
	}
}

// ETag returns a weak validator for rule text.
func ETag(text string) string {
	return `W/"` + strconv.FormatUint(xxhash.Sum64String(text), 16) + `"`
}

// Update publishes s and notifies subscribers.
func Update(s *Snapshot) {
	current.Store(s)
	publishUpdate(s.ETag)
}

// Blocked reports whether addr matches the current rules.
func (s *Snapshot) Blocked(addr string) bool {
	return s.Rules.Blocked(addr)
}
