package loopback

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// maxTokenBodyBytes bounds how much of a POST body the extractor will read.
// Real token payloads are a few hundred bytes.
const maxTokenBodyBytes = 1 << 20

var errMalformedPayload = errors.New("malformed token payload")

// tokenHandler is the application handler behind the security gate. It
// supports the two shapes the authorization page uses to deliver the token:
// a JSON POST body {"token": "..."} and the legacy GET /?token=... query.
type tokenHandler struct {
	future *tokenFuture
	logger *slog.Logger
}

func (h *tokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		token, err := tokenFromJSONBody(r.Body)
		if err != nil || token == "" {
			// Terminal for this request only; the listener keeps waiting.
			h.logger.Warn("ignoring token post with unusable payload",
				"remote_addr", sanitizeLog(r.RemoteAddr),
				"malformed", err != nil,
			)
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		h.deliver(token, r)
		writeSuccessPage(w)

	case http.MethodGet:
		// A GET without a token is a benign browser ping (favicon probe,
		// tab reload); answer with the success page without resolving.
		if token := r.URL.Query().Get("token"); token != "" {
			h.deliver(token, r)
		}
		writeSuccessPage(w)

	default:
		w.WriteHeader(http.StatusOK)
	}
}

// deliver resolves the session's token future. Extra tokens arriving after
// resolution are answered normally but never mutate session state, so
// browser retries do not see connection errors.
func (h *tokenHandler) deliver(token string, r *http.Request) {
	if !h.future.resolve(token) {
		h.logger.Debug("token already received, ignoring duplicate delivery",
			"remote_addr", sanitizeLog(r.RemoteAddr),
		)
		return
	}
	h.logger.Info("token received from authorization page",
		"method", r.Method,
		"remote_addr", sanitizeLog(r.RemoteAddr),
	)
}

// tokenFromJSONBody parses a JSON request body and extracts its "token"
// property. A missing or empty token with a well-formed body is reported as
// ("", nil) so the caller can treat the request as a non-token probe.
func tokenFromJSONBody(body io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxTokenBodyBytes))
	if err != nil {
		return "", errMalformedPayload
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", errMalformedPayload
	}
	return payload.Token, nil
}
