package ipmatch

import (
	"reflect"
	"strings"
	"sync"
	"testing"
)

func TestIsBlocked(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		rules     string
		want      bool
	}{
		{"exact match", "203.0.113.5", "203.0.113.5", true},
		{"exact mismatch", "203.0.113.6", "203.0.113.5", false},
		{"wildcard match", "192.168.1.42", "192.168.1.*", true},
		{"wildcard other subnet", "192.168.2.42", "192.168.1.*", false},
		{"wildcard needs at least one digit", "192.168.1.", "192.168.1.*", false},
		{"wildcard rejects letters", "192.168.1.ab", "192.168.1.*", false},
		{"wildcard in the middle", "10.20.30.40", "10.*.30.40", true},
		{"wildcard does not range check", "10.0.0.999", "10.0.0.*", true},
		{"wildcard dot is literal", "192x168x1x5", "192.168.1.*", false},
		{"wildcard rejects trailing newline", "192.168.1.5\n", "192.168.1.*", false},
		{"wildcard rejects trailing crlf", "192.168.1.5\r\n", "192.168.1.*", false},
		{"cidr match", "192.168.1.200", "192.168.1.0/24", true},
		{"cidr mismatch", "192.168.2.1", "192.168.1.0/24", false},
		{"cidr /16", "172.16.254.3", "172.16.0.0/16", true},
		{"cidr /32 exact", "198.51.100.7", "198.51.100.7/32", true},
		{"cidr /32 neighbour", "198.51.100.8", "198.51.100.7/32", false},
		{"cidr /0 everything", "8.8.8.8", "0.0.0.0/0", true},
		{"cidr /0 unaligned subnet matches nothing", "8.8.8.8", "10.0.0.0/0", false},
		{"cidr unaligned subnet", "192.168.1.5", "192.168.1.5/24", false},
		{"cidr candidate with leading zero", "192.168.001.1", "192.168.1.0/24", false},
		{"cidr ipv6 candidate", "::ffff:192.168.1.1", "192.168.1.0/24", false},
		{"exact ipv6 string", "2001:db8::1", "2001:db8::1", true},
		{"surrounding whitespace", "203.0.113.5", "  \t203.0.113.5 \r", true},
		{"crlf line endings", "10.0.0.1", "203.0.113.5\r\n10.0.0.1\r\n", true},
		{"empty list", "10.0.0.1", "", false},
		{"blank lines only", "10.0.0.1", "\n   \n\t\r\n", false},
		{"empty candidate", "", "10.0.0.1\n10.*\n0.0.0.0/0", false},
		{"empty candidate against pattern allowing empty", "", "|*", false},
		{"star and slash is wildcard", "10.0.0.5", "10.0.0.*/24", false},
		{"malformed then match", "203.0.113.5", "10.0.0.0/abc\n203.0.113.5", true},
		{"malformed only", "10.0.0.1", "10.0.0.0/abc", false},
		{"bad wildcard then cidr", "10.1.2.3", "10.(*\n10.0.0.0/8", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBlocked(tt.candidate, tt.rules); got != tt.want {
				t.Errorf("IsBlocked(%q, %q) = %v, want %v", tt.candidate, tt.rules, got, tt.want)
			}
			if got := Parse(tt.rules).Blocked(tt.candidate); got != tt.want {
				t.Errorf("Parse(%q).Blocked(%q) = %v, want %v", tt.rules, tt.candidate, got, tt.want)
			}
		})
	}
}

func TestIsBlocked_AlignSubnet(t *testing.T) {
	tests := []struct {
		candidate string
		rules     string
		align     bool
		want      bool
	}{
		{"192.168.1.77", "192.168.1.5/24", true, true},
		{"192.168.2.77", "192.168.1.5/24", true, false},
		{"8.8.8.8", "10.0.0.0/0", true, true},
		{"192.168.1.77", "192.168.1.5/24", false, false},
	}

	for _, tt := range tests {
		if got := IsBlocked(tt.candidate, tt.rules, WithAlignSubnet(tt.align)); got != tt.want {
			t.Errorf("IsBlocked(%q, %q, align=%v) = %v, want %v", tt.candidate, tt.rules, tt.align, got, tt.want)
		}
	}
}

func TestIsBlocked_OrderDoesNotChangeResult(t *testing.T) {
	lines := []string{"10.0.0.0/abc", "172.16.0.0/12", "192.168.1.*", "203.0.113.5", "bogus"}
	candidate := "192.168.1.9"

	for i := range lines {
		rotated := append(append([]string{}, lines[i:]...), lines[:i]...)
		if !IsBlocked(candidate, strings.Join(rotated, "\n")) {
			t.Errorf("rotation %d: expected %s to be blocked", i, candidate)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := map[string]Kind{
		"203.0.113.5":    KindExact,
		"192.168.1.*":    KindWildcard,
		"192.168.0.0/16": KindCIDR,
		"10.*/8":         KindWildcard,
		"not-an-ip":      KindExact,
	}
	for line, want := range tests {
		if got := Classify(line); got != want {
			t.Errorf("Classify(%q) = %v, want %v", line, got, want)
		}
	}
}

func TestParse_ReportsErrors(t *testing.T) {
	text := strings.Join([]string{
		"10.0.0.0/abc",
		"",
		"10.0.0.0/33",
		"10.0.0/8",
		"/24",
		"10.0.0.0/",
		"10.(*",
		"192.168.1.0/24",
		"192.168.*.*",
		"203.0.113.5",
	}, "\n")

	l := Parse(text)
	if l.Len() != 9 {
		t.Fatalf("Len() = %d, want 9", l.Len())
	}

	errs := l.Errors()
	if len(errs) != 6 {
		t.Fatalf("Errors() returned %d errors, want 6: %v", len(errs), errs)
	}
	if errs[0].Line != 1 || errs[0].Raw != "10.0.0.0/abc" || errs[0].Kind != KindCIDR {
		t.Errorf("errs[0] = %+v", errs[0])
	}
	if errs[1].Line != 3 || !strings.Contains(errs[1].Reason, "out of range") {
		t.Errorf("errs[1] = %+v", errs[1])
	}
	if errs[2].Line != 4 || !strings.Contains(errs[2].Reason, "dotted-decimal") {
		t.Errorf("errs[2] = %+v", errs[2])
	}
	if errs[5].Kind != KindWildcard || !strings.Contains(errs[5].Error(), "line 7") {
		t.Errorf("errs[5] = %+v", errs[5])
	}

	want := map[Kind]int{KindExact: 1, KindWildcard: 1, KindCIDR: 1}
	if got := l.Counts(); !reflect.DeepEqual(got, want) {
		t.Errorf("Counts() = %v, want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		align     bool
		wantLines []int
	}{
		{"empty", "", false, nil},
		{"all valid", "10.0.0.1\n10.*\n10.0.0.0/8", false, nil},
		{"exact never fails", "300.1.2.3\nnot-an-ip", false, nil},
		{"bad prefix", "10.0.0.0/33", false, []int{1}},
		{"bad wildcard after blank", "\n\n10.(*", false, []int{3}},
		{"several", "10.0.0.0/abc\n10.0.0.1\n/24", false, []int{1, 3}},
		{"alignment does not hide errors", "10.0.0.5/8\n10.0.0.0/40", true, []int{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(tt.text, WithAlignSubnet(tt.align))
			var lines []int
			for _, e := range errs {
				lines = append(lines, e.Line)
			}
			if !reflect.DeepEqual(lines, tt.wantLines) {
				t.Errorf("Validate(%q) error lines = %v, want %v", tt.text, lines, tt.wantLines)
			}
			if !reflect.DeepEqual(errs, Parse(tt.text).Errors()) {
				t.Errorf("Validate(%q) disagrees with Parse().Errors()", tt.text)
			}
		})
	}
}

func TestRuleList_Match(t *testing.T) {
	l := Parse("10.0.0.1\n\n192.168.0.0/16\n192.168.1.*")

	r, ok := l.Match("192.168.1.3")
	if !ok {
		t.Fatal("expected 192.168.1.3 to match")
	}
	if r.Kind != KindCIDR || r.Line != 3 {
		t.Errorf("Match() = %+v, want the cidr rule on line 3", r)
	}
	if got := r.String(); got != "cidr 192.168.0.0/16" {
		t.Errorf("String() = %q", got)
	}

	if _, ok := l.Match("10.0.0.2"); ok {
		t.Error("expected 10.0.0.2 not to match")
	}

	var empty *RuleList
	if empty.Blocked("10.0.0.1") {
		t.Error("nil list must not block")
	}
	if empty.Len() != 0 {
		t.Errorf("nil list Len() = %d", empty.Len())
	}
	if empty.Rules() != nil {
		t.Error("nil list Rules() must be nil")
	}
}

func TestRuleList_ConcurrentUse(t *testing.T) {
	l := Parse("10.0.0.0/8\n192.168.*.*\n203.0.113.5")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if !l.Blocked("192.168.4.4") || l.Blocked("8.8.8.8") {
					t.Error("unexpected match result")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestKind_Text(t *testing.T) {
	b, err := KindCIDR.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}
	if string(b) != "cidr" {
		t.Errorf("MarshalText() = %q, want cidr", b)
	}

	var k Kind
	if err := k.UnmarshalText([]byte("wildcard")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if k != KindWildcard {
		t.Errorf("UnmarshalText() = %v, want wildcard", k)
	}
	if err := k.UnmarshalText([]byte("regex")); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestPrefixMask(t *testing.T) {
	tests := []struct {
		bits int
		want uint32
	}{
		{0, 0},
		{8, 0xFF000000},
		{24, 0xFFFFFF00},
		{32, 0xFFFFFFFF},
	}
	for _, tt := range tests {
		if got := prefixMask(tt.bits); got != tt.want {
			t.Errorf("prefixMask(%d) = %#x, want %#x", tt.bits, got, tt.want)
		}
	}
}
