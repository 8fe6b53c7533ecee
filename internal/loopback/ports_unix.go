//go:build !windows

package loopback

import (
	"errors"
	"syscall"
)

// isAddrInUse reports whether a bind failure means the candidate port is
// already taken, so the scan may move on to the next one.
func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
