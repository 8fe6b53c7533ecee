// Package credentials stores tokens in the platform keystore. The keystore
// is consumed only through set/get/delete-by-account operations; the
// account key is the server host, so tokens for different servers coexist.
package credentials

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/zalando/go-keyring"
)

// service is the keystore service name all lenscan entries live under.
const service = "lenscan-cli"

// ErrNotFound indicates no token is stored for the server.
var ErrNotFound = errors.New("no stored token for server")

// Save stores the token for the given server, replacing any previous one.
func Save(serverURL, token string) error {
	account, err := accountFor(serverURL)
	if err != nil {
		return err
	}
	if err := keyring.Set(service, account, token); err != nil {
		return fmt.Errorf("failed to store token in keystore: %w", err)
	}
	return nil
}

// Load returns the stored token for the given server.
func Load(serverURL string) (string, error) {
	account, err := accountFor(serverURL)
	if err != nil {
		return "", err
	}
	token, err := keyring.Get(service, account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read token from keystore: %w", err)
	}
	return token, nil
}

// Delete removes the stored token for the given server.
func Delete(serverURL string) error {
	account, err := accountFor(serverURL)
	if err != nil {
		return err
	}
	if err := keyring.Delete(service, account); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete token from keystore: %w", err)
	}
	return nil
}

// accountFor derives the keystore account key from a server URL. Keying by
// lower-case host keeps "https://lenscan.io" and "https://lenscan.io/"
// pointing at the same entry.
func accountFor(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q", serverURL)
	}
	return strings.ToLower(u.Host), nil
}
