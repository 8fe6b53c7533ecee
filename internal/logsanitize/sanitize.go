// Package logsanitize provides helpers for sanitizing untrusted values before logging.
package logsanitize

import (
	"strings"
	"unicode"
)

// Sanitize replaces control characters in log field values with '_' to
// reduce the risk of log injection (CWE-117). The callback listener logs
// values taken straight from unauthenticated HTTP requests (Origin, Host,
// RemoteAddr).
//
// Horizontal tab is kept; every other Unicode control character (the C0
// range, DEL and the C1 range) is replaced.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r != '\t' && unicode.IsControl(r) {
			return '_'
		}
		return r
	}, s)
}
