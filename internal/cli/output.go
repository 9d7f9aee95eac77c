package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/postguard/internal/audit"
	"github.com/TimurManjosov/postguard/internal/client"
	"github.com/TimurManjosov/postguard/internal/gate"
	"github.com/TimurManjosov/postguard/internal/ipmatch"
	"github.com/TimurManjosov/postguard/internal/store"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// PrintPosts writes posts to w. JSON output wraps them in a "posts" key.
func PrintPosts(w io.Writer, posts []store.Post, format OutputFormat) error {
	return render(w, format, map[string][]store.Post{"posts": posts}, func() error {
		table := tablewriter.NewWriter(w)
		table.Header("ID", "Title", "Blocked", "Comments", "Updated At")
		for _, p := range posts {
			if err := table.Append(
				p.ID,
				truncate(p.Title, 40),
				strconv.FormatBool(p.Blocked),
				openClosed(p.CommentsOpen),
				p.UpdatedAt.Format("2006-01-02 15:04"),
			); err != nil {
				return err
			}
		}
		return table.Render()
	})
}

// PrintPost writes a single post.
func PrintPost(w io.Writer, post *store.Post, format OutputFormat) error {
	if format == FormatTable {
		return PrintPosts(w, []store.Post{*post}, format)
	}
	return render(w, format, post, nil)
}

// PrintRules writes compiled rules with a summary of per-kind counts and a
// list of lines that will never match.
func PrintRules(w io.Writer, rules []ipmatch.Rule, counts map[ipmatch.Kind]int, errs []*ipmatch.ParseError, data any, format OutputFormat) error {
	return render(w, format, data, func() error {
		table := tablewriter.NewWriter(w)
		table.Header("Line", "Rule", "Kind", "Status")
		for _, r := range rules {
			status := "ok"
			if r.Err != nil {
				status = "error: " + r.Err.Reason
			}
			if err := table.Append(strconv.Itoa(r.Line), r.Raw, r.Kind.String(), status); err != nil {
				return err
			}
		}
		if err := table.Render(); err != nil {
			return err
		}

		fmt.Fprintf(w, "\n%d exact, %d wildcard, %d cidr", counts[ipmatch.KindExact], counts[ipmatch.KindWildcard], counts[ipmatch.KindCIDR])
		if len(errs) > 0 {
			fmt.Fprintf(w, ", %d invalid", len(errs))
		}
		fmt.Fprintln(w)
		return nil
	})
}

// PrintRuleSet writes the stored rules.
func PrintRuleSet(w io.Writer, rs *client.RuleSet, format OutputFormat) error {
	if format == FormatTable {
		fmt.Fprintf(w, "ETag: %s  Updated: %s\n\n", rs.ETag, rs.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return PrintRules(w, rs.Rules, rs.Counts, rs.Errors, rs, format)
}

// PrintDecision writes the outcome of a rule check.
func PrintDecision(w io.Writer, d *gate.Decision, format OutputFormat) error {
	return render(w, format, d, func() error {
		if !d.Blocked {
			_, err := fmt.Fprintf(w, "%s is not blocked\n", d.Addr)
			return err
		}
		_, err := fmt.Fprintf(w, "%s is blocked by line %d: %s (%s)\n", d.Addr, d.Rule.Line, d.Rule.Raw, d.Rule.Kind)
		return err
	})
}

// PrintAudit writes audit events.
func PrintAudit(w io.Writer, events []audit.Event, format OutputFormat) error {
	return render(w, format, map[string][]audit.Event{"events": events}, func() error {
		table := tablewriter.NewWriter(w)
		table.Header("Time", "Actor", "Action", "Resource", "Status", "Source")
		for _, e := range events {
			resource := e.ResourceType
			if e.ResourceID != "" {
				resource += "/" + e.ResourceID
			}
			status := e.Status
			if e.ErrorMessage != nil {
				status += ": " + *e.ErrorMessage
			}
			if err := table.Append(
				e.OccurredAt.Format("2006-01-02 15:04:05"),
				e.Actor,
				e.Action,
				truncate(resource, 48),
				status,
				e.Source.IPAddress,
			); err != nil {
				return err
			}
		}
		return table.Render()
	})
}

func render(w io.Writer, format OutputFormat, data any, table func() error) error {
	switch format {
	case FormatJSON:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	case FormatYAML:
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		encoder.SetIndent(2)
		return encoder.Encode(data)
	case FormatTable:
		if table == nil {
			return fmt.Errorf("table output not available")
		}
		return table()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}

func openClosed(open bool) string {
	if open {
		return "open"
	}
	return "closed"
}
