package loopback

import "github.com/lenscan/lenscan-cli/internal/logsanitize"

// sanitizeLog strips control characters from request-derived values before
// they reach structured log output. Everything the listener logs (Origin,
// Host, RemoteAddr) originates from an unauthenticated peer.
func sanitizeLog(s string) string {
	return logsanitize.Sanitize(s)
}
