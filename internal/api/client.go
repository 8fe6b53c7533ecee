// Package api is a thin REST client for the Lenscan server, used to
// validate a freshly received token before it is stored.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrTokenRejected indicates the server answered the validation call but
// refused the token (revoked, expired or never issued).
var ErrTokenRejected = errors.New("server rejected the token")

// Account describes the authenticated account behind a token.
type Account struct {
	Login string `json:"login"`
	Name  string `json:"name"`
}

// Client talks to a single Lenscan server. Transient transport failures
// and 5xx responses are retried with backoff; auth failures are not.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

// NewClient creates a client for the given server base URL.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    rc,
	}
}

// ValidateToken checks the token against the server and returns the account
// it authenticates. A definitive refusal is reported as ErrTokenRejected.
func (c *Client) ValidateToken(ctx context.Context, token string) (*Account, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/account/current", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build validation request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token validation request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		var account Account
		if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
			return nil, fmt.Errorf("failed to decode account response: %w", err)
		}
		return &account, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrTokenRejected

	default:
		return nil, fmt.Errorf("unexpected status %d from token validation", resp.StatusCode)
	}
}
