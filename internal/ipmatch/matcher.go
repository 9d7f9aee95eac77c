package ipmatch

import "strings"

// trimCutset is the set of characters stripped from both ends of a line.
const trimCutset = " \t\n\r\x00\x0B"

type options struct {
	alignSubnet bool
}

// Option configures how rule text is compiled.
type Option func(*options)

// WithAlignSubnet masks the configured CIDR subnet before comparing, so
// 192.168.1.5/24 behaves like 192.168.1.0/24. By default the subnet is used
// exactly as written and an unaligned subnet matches nothing.
func WithAlignSubnet(align bool) Option {
	return func(o *options) {
		o.alignSubnet = align
	}
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// eachLine calls fn for every non-blank trimmed line with its 1-based line
// number. Iteration stops when fn returns false.
func eachLine(text string, fn func(line int, raw string) bool) {
	for i, line := range strings.Split(text, "\n") {
		line = strings.Trim(line, trimCutset)
		if line == "" {
			continue
		}
		if !fn(i+1, line) {
			return
		}
	}
}

// IsBlocked reports whether candidate matches any rule in text.
//
// Rules are compiled one at a time and evaluation stops at the first match,
// so a malformed line later in the text is never looked at once an earlier
// line matched. Malformed lines never match. An empty candidate, as produced
// when the client address is unknown, matches nothing.
func IsBlocked(candidate, text string, opts ...Option) bool {
	o := newOptions(opts)
	blocked := false
	eachLine(text, func(line int, raw string) bool {
		if compile(line, raw, o).Match(candidate) {
			blocked = true
			return false
		}
		return true
	})
	return blocked
}

// RuleList is a compiled rule text. It is immutable and safe for concurrent
// use.
type RuleList struct {
	rules []Rule
	errs  []*ParseError
}

// Parse compiles every non-blank line of text.
func Parse(text string, opts ...Option) *RuleList {
	o := newOptions(opts)
	l := &RuleList{}
	eachLine(text, func(line int, raw string) bool {
		r := compile(line, raw, o)
		if r.Err != nil {
			l.errs = append(l.errs, r.Err)
		}
		l.rules = append(l.rules, r)
		return true
	})
	return l
}

// Validate returns the parse errors of text without keeping the rules.
func Validate(text string, opts ...Option) []*ParseError {
	return Parse(text, opts...).Errors()
}

// Match returns the first rule candidate satisfies.
func (l *RuleList) Match(candidate string) (Rule, bool) {
	if l == nil {
		return Rule{}, false
	}
	for _, r := range l.rules {
		if r.Match(candidate) {
			return r, true
		}
	}
	return Rule{}, false
}

// Blocked reports whether any rule matches candidate.
func (l *RuleList) Blocked(candidate string) bool {
	_, ok := l.Match(candidate)
	return ok
}

// Rules returns a copy of the compiled rules in source order, including the
// ones that failed to compile.
func (l *RuleList) Rules() []Rule {
	if l == nil {
		return nil
	}
	out := make([]Rule, len(l.rules))
	copy(out, l.rules)
	return out
}

// Errors returns the parse errors in source order.
func (l *RuleList) Errors() []*ParseError {
	if l == nil {
		return nil
	}
	return l.errs
}

func (l *RuleList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.rules)
}

// Counts returns the number of compiled rules per kind. Rules with parse
// errors are not counted.
func (l *RuleList) Counts() map[Kind]int {
	counts := map[Kind]int{KindExact: 0, KindWildcard: 0, KindCIDR: 0}
	if l == nil {
		return counts
	}
	for _, r := range l.rules {
		if r.Err == nil {
			counts[r.Kind]++
		}
	}
	return counts
}
