package loopback

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestGate builds a gate in front of a handler that records invocation.
func newTestGate(origins ...string) (*securityGate, *bool) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	return newSecurityGate(next, origins, discardLogger()), &called
}

func TestPreflightAllowedOrigin(t *testing.T) {
	gate, called := newTestGate("https://lenscan.io")

	req := httptest.NewRequest(http.MethodOptions, "http://localhost:64120/", nil)
	req.Header.Set("Origin", "https://lenscan.io")
	w := httptest.NewRecorder()

	gate.ServeHTTP(w, req)

	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if *called {
		t.Error("preflight must not reach the application handler")
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://lenscan.io" {
		t.Errorf("Access-Control-Allow-Origin = %q, want the request origin", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
		t.Errorf("Access-Control-Allow-Methods = %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); got != "Content-Type" {
		t.Errorf("Access-Control-Allow-Headers = %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Private-Network"); got != "true" {
		t.Errorf("Access-Control-Allow-Private-Network = %q, want true", got)
	}
}

func TestPreflightDisallowedOrigin(t *testing.T) {
	gate, called := newTestGate("https://lenscan.io")

	req := httptest.NewRequest(http.MethodOptions, "http://localhost:64120/", nil)
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()

	gate.ServeHTTP(w, req)

	resp := w.Result()
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 (preflights are always answered)", resp.StatusCode)
	}
	if *called {
		t.Error("preflight must not reach the application handler")
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected Access-Control-Allow-Origin %q for a hostile origin", got)
	}
}

func TestOriginValidation(t *testing.T) {
	tests := []struct {
		name       string
		origin     string
		wantStatus int
		wantNext   bool
	}{
		{"no origin is permitted", "", http.StatusOK, true},
		{"localhost origin", "http://localhost:3000", http.StatusOK, true},
		{"ipv4 loopback origin", "http://127.0.0.1:8080", http.StatusOK, true},
		{"ipv6 loopback origin", "http://[::1]:9999", http.StatusOK, true},
		{"allow-listed origin", "https://lenscan.io", http.StatusOK, true},
		{"allow-listed origin case-insensitive", "HTTPS://LENSCAN.IO", http.StatusOK, true},
		{"hostile origin", "https://evil.example", http.StatusForbidden, false},
		{"null origin", "null", http.StatusForbidden, false},
		{"subdomain of allowed origin", "https://sub.lenscan.io", http.StatusForbidden, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, called := newTestGate("https://lenscan.io")

			req := httptest.NewRequest(http.MethodGet, "http://localhost:64120/", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()

			gate.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if *called != tt.wantNext {
				t.Errorf("handler called = %v, want %v", *called, tt.wantNext)
			}
		})
	}
}

func TestHostValidation(t *testing.T) {
	tests := []struct {
		name       string
		host       string
		wantStatus int
	}{
		{"localhost with port", "localhost:64120", http.StatusOK},
		{"ipv4 loopback with port", "127.0.0.1:64120", http.StatusOK},
		{"ipv6 loopback with port", "[::1]:64120", http.StatusOK},
		{"bare localhost", "localhost", http.StatusOK},
		{"rebound hostname", "evil.example:64120", http.StatusForbidden},
		{"rebound hostname without port", "evil.example", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate, _ := newTestGate()

			req := httptest.NewRequest(http.MethodGet, "http://localhost:64120/", nil)
			req.Host = tt.host
			w := httptest.NewRecorder()

			gate.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Host %q: status = %d, want %d", tt.host, w.Code, tt.wantStatus)
			}
		})
	}
}

func TestBaselineHeadersOnEveryResponse(t *testing.T) {
	wantHeaders := map[string]string{
		"Content-Security-Policy": "default-src 'none'; connect-src 'self'",
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Cache-Control":           "no-store",
	}

	requests := map[string]*http.Request{
		"accepted GET": httptest.NewRequest(http.MethodGet, "http://localhost:64120/", nil),
		"preflight":    httptest.NewRequest(http.MethodOptions, "http://localhost:64120/", nil),
	}
	forbidden := httptest.NewRequest(http.MethodGet, "http://localhost:64120/", nil)
	forbidden.Header.Set("Origin", "https://evil.example")
	requests["forbidden GET"] = forbidden

	for name, req := range requests {
		t.Run(name, func(t *testing.T) {
			gate, _ := newTestGate()
			w := httptest.NewRecorder()

			gate.ServeHTTP(w, req)

			for key, want := range wantHeaders {
				if got := w.Header().Get(key); got != want {
					t.Errorf("%s = %q, want %q", key, got, want)
				}
			}
		})
	}
}

func TestBaselineHeadersOverrideHandlerValues(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
	})
	gate := newSecurityGate(next, nil, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "http://localhost:64120/", nil)
	w := httptest.NewRecorder()

	gate.ServeHTTP(w, req)

	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want the baseline no-store", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want the baseline DENY", got)
	}
	// Keys outside the baseline pass through untouched.
	if got := w.Header().Get("Content-Type"); got != "text/plain" {
		t.Errorf("Content-Type = %q, want text/plain", got)
	}
}

func TestBaselineHeadersOnSilentHandler(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	gate := newSecurityGate(next, nil, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "http://localhost:64120/", nil)
	w := httptest.NewRecorder()

	gate.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestAllowOriginEchoedOnAcceptedRequest(t *testing.T) {
	gate, _ := newTestGate("https://lenscan.io")

	req := httptest.NewRequest(http.MethodGet, "http://localhost:64120/", nil)
	req.Header.Set("Origin", "https://lenscan.io")
	w := httptest.NewRecorder()

	gate.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://lenscan.io" {
		t.Errorf("Access-Control-Allow-Origin = %q, want the validated origin", got)
	}
	if got := w.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want Origin", got)
	}
}

func TestRateLimiting(t *testing.T) {
	gate, _ := newTestGate()

	limited := 0
	for i := 0; i < 100; i++ {
		req := httptest.NewRequest(http.MethodGet, "http://localhost:64120/", nil)
		w := httptest.NewRecorder()
		gate.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}

	if limited == 0 {
		t.Error("expected some requests to be rate limited after the burst")
	}
}

func TestRecoversFromPanickingHandler(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	gate := newSecurityGate(next, nil, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "http://localhost:64120/", nil)
	w := httptest.NewRecorder()

	gate.ServeHTTP(w, req) // must not panic the test

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
