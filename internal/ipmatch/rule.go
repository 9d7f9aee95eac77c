// Package ipmatch decides whether a client address falls inside an
// administrator-supplied list of blocking rules.
//
// A rule list is free-form text with one rule per line. Each non-blank line
// is one of three kinds:
//
//	203.0.113.5       exact address, compared as a string
//	192.168.1.*       wildcard, each * stands for one or more digits
//	192.168.1.0/24    CIDR range over 32-bit IPv4 addresses
//
// Lines that cannot be compiled are kept as rules that never match, so one
// bad line never stops the evaluation of the others. Only IPv4 addresses are
// understood by the wildcard and CIDR kinds.
package ipmatch

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"
)

// Kind is the rule variant chosen by Classify.
type Kind uint8

const (
	// KindExact compares the candidate address literally.
	KindExact Kind = iota
	// KindWildcard matches the candidate against a digit-run pattern.
	KindWildcard
	// KindCIDR matches the candidate against a subnet and prefix length.
	KindCIDR
)

func (k Kind) String() string {
	switch k {
	case KindExact:
		return "exact"
	case KindWildcard:
		return "wildcard"
	case KindCIDR:
		return "cidr"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON and YAML output.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "exact":
		*k = KindExact
	case "wildcard":
		*k = KindWildcard
	case "cidr":
		*k = KindCIDR
	default:
		return fmt.Errorf("unknown rule kind %q", text)
	}
	return nil
}

// Classify returns the kind of a trimmed rule line.
// A line containing both * and / is a wildcard rule.
func Classify(line string) Kind {
	switch {
	case strings.Contains(line, "*"):
		return KindWildcard
	case strings.Contains(line, "/"):
		return KindCIDR
	default:
		return KindExact
	}
}

// Rule is one compiled line of a rule list.
type Rule struct {
	Line int    `json:"line"` // 1-based line number in the source text
	Raw  string `json:"raw"`  // trimmed line text
	Kind Kind   `json:"kind"`

	// Err is set when the line could not be compiled. Such a rule never matches.
	Err *ParseError `json:"error,omitempty"`

	pattern *regexp2.Regexp
	subnet  uint32
	mask    uint32
}

// compile classifies and prepares a trimmed, non-empty line.
func compile(line int, raw string, o options) Rule {
	r := Rule{Line: line, Raw: raw, Kind: Classify(raw)}

	switch r.Kind {
	case KindWildcard:
		re, err := compileWildcard(raw)
		if err != nil {
			r.Err = newParseError(r, "invalid wildcard pattern: "+err.Error())
			return r
		}
		r.pattern = re
	case KindCIDR:
		subnet, mask, reason := parseCIDR(raw)
		if reason != "" {
			r.Err = newParseError(r, reason)
			return r
		}
		if o.alignSubnet {
			subnet &= mask
		}
		r.subnet, r.mask = subnet, mask
	}
	return r
}

// Match reports whether candidate satisfies the rule.
func (r Rule) Match(candidate string) bool {
	if r.Err != nil || candidate == "" {
		return false
	}
	switch r.Kind {
	case KindWildcard:
		return matchWildcard(r.pattern, candidate)
	case KindCIDR:
		ip, ok := parseIPv4(candidate)
		if !ok {
			return false
		}
		return ip&r.mask == r.subnet
	default:
		return candidate == r.Raw
	}
}

func (r Rule) String() string {
	return r.Kind.String() + " " + r.Raw
}
