package trackmilter

import (
	"strings"
)

// isAffirmative tells if opt-in header value reads as a boolean yes.
// Postfix users write all kinds of things into custom headers.
func isAffirmative(token string) bool {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "yes", "true", "1", "on":
		return true
	}
	return false
}

// stripAngles removes RFC 5321 angle brackets from envelope addresses,
// MAIL FROM:<scuba@example.org> arrives to us as <scuba@example.org>
func stripAngles(raw string) string {
	return strings.Trim(strings.TrimSpace(raw), "<>")
}

// domainOf extracts domain part of email address, empty string if there is none
func domainOf(address string) string {
	i := strings.LastIndexByte(address, '@')
	if i < 0 || i == len(address)-1 {
		return ""
	}
	return address[i+1:]
}
