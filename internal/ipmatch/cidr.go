package ipmatch

import (
	"net/netip"
	"strconv"
	"strings"
)

// parseIPv4 converts strict dotted-decimal text to a big-endian 32-bit value.
// Four octets in 0-255 without leading zeros are required; IPv6 and
// IPv4-mapped IPv6 text is rejected.
func parseIPv4(s string) (uint32, bool) {
	ip, err := netip.ParseAddr(s)
	if err != nil || !ip.Is4() {
		return 0, false
	}
	b := ip.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), true
}

// prefixMask returns ^((1 << (32-bits)) - 1) truncated to 32 bits.
// bits must be within 0-32.
func prefixMask(bits int) uint32 {
	return ^uint32((uint64(1) << (32 - bits)) - 1)
}

// parseCIDR splits "subnet/bits". The subnet is returned as written, not
// masked, so an unaligned subnet such as 192.168.1.5/24 matches nothing.
// A non-empty reason means the rule is malformed.
func parseCIDR(raw string) (subnet, mask uint32, reason string) {
	addr, bitsText, _ := strings.Cut(raw, "/")

	bits, err := strconv.ParseUint(bitsText, 10, 8)
	if err != nil {
		return 0, 0, "mask bits must be a number between 0 and 32"
	}
	if bits > 32 {
		return 0, 0, "mask bits " + bitsText + " out of range 0-32"
	}

	subnet, ok := parseIPv4(addr)
	if !ok {
		return 0, 0, "subnet " + strconv.Quote(addr) + " is not a dotted-decimal IPv4 address"
	}
	return subnet, prefixMask(int(bits)), ""
}
