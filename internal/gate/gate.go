// Package gate applies the blocking rules to content: it replaces flagged
// posts for blocked visitors and hides them from the home listing.
package gate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TimurManjosov/postguard/internal/ipmatch"
	"github.com/TimurManjosov/postguard/internal/store"
	"github.com/TimurManjosov/postguard/internal/telemetry"
)

const (
	DefaultTitle         = "Content Blocked"
	DefaultMessage       = "Your IP range has been blocked. Please try changing your IP and refresh. Redirecting to the homepage in 3 seconds..."
	DefaultHomeURL       = "/"
	DefaultRedirectDelay = 3000 * time.Millisecond
)

// Options configures the placeholder shown to blocked visitors.
// Zero fields fall back to the defaults above.
type Options struct {
	HomeURL       string
	Title         string
	Message       string
	RedirectDelay time.Duration
	Logger        logrus.FieldLogger
}

// Gate decides what a visitor sees. The rule list is fetched on every call,
// so a settings change applies to the next request.
type Gate struct {
	rules func() *ipmatch.RuleList
	opts  Options
}

// New creates a gate reading the current rules from rules.
func New(rules func() *ipmatch.RuleList, opts Options) *Gate {
	if opts.HomeURL == "" {
		opts.HomeURL = DefaultHomeURL
	}
	if opts.Title == "" {
		opts.Title = DefaultTitle
	}
	if opts.Message == "" {
		opts.Message = DefaultMessage
	}
	if opts.RedirectDelay <= 0 {
		opts.RedirectDelay = DefaultRedirectDelay
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Gate{rules: rules, opts: opts}
}

// Decision is the outcome of checking one visitor address.
type Decision struct {
	Addr    string        `json:"ip"`
	Blocked bool          `json:"blocked"`
	Rule    *ipmatch.Rule `json:"rule,omitempty"` // first matching rule
}

// Check matches addr against the current rules.
func (g *Gate) Check(addr string) Decision {
	d := Decision{Addr: addr}
	if r, ok := g.rules().Match(addr); ok {
		d.Blocked = true
		d.Rule = &r
	}
	return d
}

// IsVisitorBlocked reports whether addr matches any current rule.
func (g *Gate) IsVisitorBlocked(addr string) bool {
	return g.rules().Blocked(addr)
}

// Redirect tells the client where to go after the placeholder was shown.
type Redirect struct {
	URL     string `json:"url"`
	DelayMS int64  `json:"delayMs"`
}

// PostView is a post as presented to one visitor.
type PostView struct {
	store.Post
	Gated    bool      `json:"gated"`
	Redirect *Redirect `json:"redirect,omitempty"`
}

// View returns post as addr should see it. Only posts with blocking enabled
// are ever replaced; the rules are not evaluated for other posts.
func (g *Gate) View(post store.Post, addr string) PostView {
	if !post.Blocked {
		return PostView{Post: post}
	}

	d := g.Check(addr)
	if !d.Blocked {
		telemetry.GateDecisions.WithLabelValues("passed").Inc()
		return PostView{Post: post}
	}

	telemetry.GateDecisions.WithLabelValues("gated").Inc()
	g.opts.Logger.WithFields(logrus.Fields{
		"post_id":   post.ID,
		"ip":        addr,
		"rule_line": d.Rule.Line,
		"rule":      d.Rule.Raw,
	}).Debug("post gated")

	post.Title = g.opts.Title
	post.Content = g.opts.Message
	post.CommentsOpen = false
	return PostView{
		Post:  post,
		Gated: true,
		Redirect: &Redirect{
			URL:     g.opts.HomeURL,
			DelayMS: g.opts.RedirectDelay.Milliseconds(),
		},
	}
}

// Script returns the inline JavaScript performing the redirect.
func (r Redirect) Script() string {
	return RedirectScript(r.URL, time.Duration(r.DelayMS)*time.Millisecond)
}

// RedirectScript returns a setTimeout snippet sending the browser to url after
// delay. The URL is emitted as a JSON string literal.
func RedirectScript(url string, delay time.Duration) string {
	lit, _ := json.Marshal(url)
	return fmt.Sprintf("setTimeout(function() { window.location.href = %s; }, %d);", lit, delay.Milliseconds())
}

// ListingOptions returns the store filter for the home listing: visitors
// matching any rule do not see posts with blocking enabled.
func (g *Gate) ListingOptions(addr string) store.ListOptions {
	if !g.IsVisitorBlocked(addr) {
		return store.ListOptions{}
	}
	telemetry.ListingsFiltered.Inc()
	return store.ListOptions{ExcludeBlocked: true}
}
