package ipmatch

import "fmt"

// ParseError describes a rule line that could not be compiled.
// It is reported for diagnostics only; the rule is skipped during matching.
type ParseError struct {
	Line   int    `json:"line"`
	Raw    string `json:"raw"`
	Kind   Kind   `json:"kind"`
	Reason string `json:"reason"`
}

func newParseError(r Rule, reason string) *ParseError {
	return &ParseError{Line: r.Line, Raw: r.Raw, Kind: r.Kind, Reason: reason}
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s rule %q: %s", e.Line, e.Kind, e.Raw, e.Reason)
}
