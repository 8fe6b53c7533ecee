package login

import (
	"net/url"
	"strconv"
	"strings"
)

// authPath is the authorization page path on the server. Part of the
// callback contract: the page at this path is what posts the token back to
// the loopback listener.
const authPath = "/auth/ide"

// AuthorizationURL builds the URL the user's browser is sent to. The server
// page reads the ideName and port parameters, generates a one-time token
// after the user confirms, and delivers it to http://localhost:<port>.
func AuthorizationURL(serverURL, clientName string, port int) string {
	base := strings.TrimRight(serverURL, "/")

	q := url.Values{}
	q.Set("ideName", clientName)
	q.Set("port", strconv.Itoa(port))

	return base + authPath + "?" + q.Encode()
}
