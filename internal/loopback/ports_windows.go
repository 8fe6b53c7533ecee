//go:build windows

package loopback

import (
	"errors"

	"golang.org/x/sys/windows"
)

// isAddrInUse reports whether a bind failure means the candidate port is
// already taken, so the scan may move on to the next one. Winsock reports a
// taken port as WSAEADDRINUSE; the portable syscall.EADDRINUSE constant
// never matches it on this platform.
func isAddrInUse(err error) bool {
	return errors.Is(err, windows.WSAEADDRINUSE)
}
