package utils

import (
	"net/netip"

	"ipwatch/internal/types"
)

// IsValidIP checks if a string is a syntactically valid IPv4 or IPv6
// address. IPv6 zone identifiers ("fe80::1%eth0") are accepted. Hostnames,
// empty strings and out-of-range octets are rejected. Private-use ranges
// are considered valid here; filtering them is the blacklist's job.
func IsValidIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}

// FamilyOf returns the address family of a valid IP string
func FamilyOf(s string) (types.IPFamily, bool) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	if addr.Is4() || addr.Is4In6() {
		return types.IPv4, true
	}
	return types.IPv6, true
}
