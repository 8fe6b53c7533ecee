package loopback

import (
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// securityGate wraps every inbound request on every bound listener. The
// port is unauthenticated, so the gate is the only thing standing between
// a hostile web page and the token handshake: it rate-limits probes,
// answers CORS preflights, validates Origin and Host against the loopback
// hosts and the session's allow list, and stamps a fixed baseline of
// security headers on every response, overriding whatever the inner handler
// may have set for those keys.
type securityGate struct {
	next           http.Handler
	allowedOrigins map[string]struct{}
	limiter        *ipRateLimiter
	logger         *slog.Logger
}

func newSecurityGate(next http.Handler, allowedOrigins []string, logger *slog.Logger) *securityGate {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if norm, ok := normalizeOrigin(o); ok {
			allowed[norm] = struct{}{}
		}
	}
	return &securityGate{
		next:           next,
		allowedOrigins: allowed,
		limiter:        newIPRateLimiter(10, 50),
		logger:         logger,
	}
}

func (g *securityGate) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	w := &baselineWriter{ResponseWriter: rw}

	defer func() {
		// A malformed or malicious probe must never take the listener
		// down with it; the session keeps waiting.
		if err := recover(); err != nil {
			g.logger.Error("panic while handling callback request",
				"error", err,
				"stack", string(debug.Stack()),
			)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
	}()

	if !g.limiter.allow(extractIP(r)) {
		g.logger.Warn("rate limit exceeded on loopback listener",
			"remote_addr", sanitizeLog(r.RemoteAddr),
		)
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	origin := r.Header.Get("Origin")
	originOK := origin == "" || g.originAllowed(origin)

	// Browsers ask permission before a cross-origin fetch to a loopback
	// address. Preflights are answered here and never reach the token
	// handler.
	if r.Method == http.MethodOptions {
		if origin != "" && originOK {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Allow-Private-Network", "true")
			h.Set("Vary", "Origin")
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	// Absence of an Origin header is permitted: non-browser callers
	// (curl, the service's backend) do not send one.
	if !originOK {
		g.logger.Debug("rejected callback request: origin not allowed",
			"origin", sanitizeLog(origin),
			"remote_addr", sanitizeLog(r.RemoteAddr),
		)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	// Independent second check against DNS rebinding: a hostile page can
	// sometimes arrange a spoofed Origin, but the Host header it reaches
	// us through still names the non-loopback hostname it resolved.
	if r.Host != "" && !isLoopbackHost(hostnameOf(r.Host)) {
		g.logger.Debug("rejected callback request: non-loopback host",
			"host", sanitizeLog(r.Host),
			"remote_addr", sanitizeLog(r.RemoteAddr),
		)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")
	}

	g.next.ServeHTTP(w, r)
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
}

// baselineWriter defers the security header baseline to the moment the
// status line is written, after the inner handler has had its say. Stamping
// last makes the baseline authoritative: a handler that sets one of the
// baseline keys is overridden rather than silently trusted.
type baselineWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *baselineWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		writeBaselineHeaders(w.ResponseWriter)
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *baselineWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// originAllowed reports whether the Origin header value names a loopback
// origin or a member of the session's allow list.
func (g *securityGate) originAllowed(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	if isLoopbackHost(u.Hostname()) {
		return true
	}
	norm, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, allowed := g.allowedOrigins[norm]
	return allowed
}

// writeBaselineHeaders stamps the fixed security header set every response
// carries. Called by baselineWriter just before the headers go out, so
// these values win over any earlier Set by the inner handler.
func writeBaselineHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Security-Policy", "default-src 'none'; connect-src 'self'")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Cache-Control", "no-store")
}

// isLoopbackHost reports whether a hostname is one of the recognized
// loopback hosts a legitimate callback can arrive on.
func isLoopbackHost(hostname string) bool {
	switch strings.ToLower(hostname) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// hostnameOf strips an optional port and IPv6 brackets from a Host header
// value.
func hostnameOf(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.Trim(host, "[]")
}

// normalizeOrigin canonicalizes an origin to scheme://host[:port] in lower
// case so allow-list membership is a plain string comparison.
func normalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

// ipRateLimiter keeps one token bucket per remote IP. On a loopback-only
// listener the key space is tiny (127.0.0.1 and ::1), so entries live for
// the session's lifetime with no eviction.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newIPRateLimiter(r rate.Limit, b int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    b,
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[ip] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}

// extractIP extracts the client IP from the request. RemoteAddr only; the
// listener is never behind a proxy, so forwarding headers are untrusted.
func extractIP(r *http.Request) string {
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	return ip
}
