package ipmatch

import (
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// wildcardTimeout bounds a single pattern evaluation. Patterns are built from
// administrator text and may contain arbitrary regular expression syntax.
const wildcardTimeout = 50 * time.Millisecond

// compileWildcard turns "192.168.*.*" into ^192\.168\.[0-9]+\.[0-9]+\z.
// Characters other than * and . are passed through to the regular expression
// unchanged. \z is used over $, which would also accept a trailing newline.
func compileWildcard(raw string) (*regexp2.Regexp, error) {
	pattern := strings.ReplaceAll(raw, "*", "[0-9]+")
	pattern = strings.ReplaceAll(pattern, ".", `\.`)

	re, err := regexp2.Compile("^"+pattern+`\z`, regexp2.None)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = wildcardTimeout
	return re, nil
}

func matchWildcard(re *regexp2.Regexp, candidate string) bool {
	if re == nil {
		return false
	}
	ok, err := re.MatchString(candidate)
	return err == nil && ok
}
