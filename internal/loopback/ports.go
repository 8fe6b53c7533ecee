package loopback

import (
	"fmt"
	"log/slog"
	"net"
)

// PortRange is the contiguous set of candidate loopback ports the remote
// authorization service is allowed to call back on. The bounds are an
// external protocol contract, not tunables: the service refuses to post a
// token to any port outside the range it was registered with. The struct
// exists so tests can inject a narrow range without touching shared state.
type PortRange struct {
	Start int
	Count int
}

// End returns the last port in the range, inclusive.
func (r PortRange) End() int {
	return r.Start + r.Count - 1
}

// DefaultPortRange is the currently effective callback contract with the
// remote authorization service: ports 64120-64130 inclusive. This is the
// single authoritative source for the bounds.
var DefaultPortRange = PortRange{Start: 64120, Count: 11}

// bindFirstFree scans the range in ascending order and binds the first
// free port on the IPv4 loopback address. The listener is bound and held
// immediately, never test-and-closed, so the port cannot be lost to another
// process between discovery and use.
//
// "Address in use" continues the scan; any other bind failure (permissions,
// exhausted descriptors) aborts with a BindError rather than being masked
// by the remaining candidates.
func bindFirstFree(r PortRange) (net.Listener, int, error) {
	for port := r.Start; port <= r.End(); port++ {
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		ln, err := net.Listen("tcp4", addr)
		if err != nil {
			if isAddrInUse(err) {
				continue
			}
			return nil, 0, &BindError{Addr: addr, Err: err}
		}
		return ln, port, nil
	}
	return nil, 0, &NoAvailablePortError{Range: r}
}

// bindIPv6Mirror attempts a best-effort second bind of the same port on the
// IPv6 loopback address. Some operating systems resolve "localhost" to ::1
// first, so without this mirror the browser callback can be refused even
// though the IPv4 listener is healthy. Failure only disables the IPv6
// listener for this session; the primary callback path stays IPv4.
func bindIPv6Mirror(port int, logger *slog.Logger) net.Listener {
	addr := fmt.Sprintf("[::1]:%d", port)
	ln, err := net.Listen("tcp6", addr)
	if err != nil {
		// Deliberately not escalated. Logged apart from fatal IPv4 bind
		// errors so dual-stack issues stay diagnosable.
		logger.Debug("ipv6 loopback unavailable, continuing ipv4-only",
			"addr", addr,
			"error", err,
		)
		return nil
	}
	return ln
}
