// Package loopback completes a browser-delegated login over an ephemeral
// local HTTP listener. A session binds the first free port of the mandated
// callback range on the IPv4 loopback address (mirrored on IPv6 when the
// host supports it), guards the unauthenticated port against DNS-rebinding
// and cross-origin abuse, and shepherds a single one-time token from the
// remote authorization page to the caller.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// closeGracePeriod is the hard upper bound on teardown: after it elapses,
// still-open client sockets are forcibly terminated so process exit is
// never blocked by a lingering connection.
const closeGracePeriod = 2 * time.Second

// State is the lifecycle phase of a Session.
type State int32

const (
	StateSearching State = iota
	StateListening
	StateWaiting
	StateResolved
	StateTimedOut
	StateCancelled
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSearching:
		return "searching"
	case StateListening:
		return "listening"
	case StateWaiting:
		return "waiting"
	case StateResolved:
		return "resolved"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures a Session. The zero value is usable: the mandated
// default port range, no extra allowed origins, the default logger.
type Options struct {
	// PortRange overrides the callback port range. Only tests should set
	// this; the default is the external protocol contract.
	PortRange PortRange

	// AllowedOrigins lists non-loopback origins permitted to call back,
	// typically the authorization page's own origin. Immutable once the
	// session is started.
	AllowedOrigins []string

	Logger *slog.Logger
}

// Session is a single login attempt: a pair of bound loopback listeners, a
// single-assignment token future and a state machine running from
// StateSearching through one terminal outcome to StateClosed. A Session is
// exclusively owned by its creator and must be closed on every path.
type Session struct {
	port   int
	logger *slog.Logger
	future *tokenFuture

	cancelOnce sync.Once
	cancelCh   chan struct{}

	// servers holds one http.Server per bound listener: servers[0] is
	// IPv4, servers[1] (when present) the IPv6 mirror.
	servers []*http.Server

	mu    sync.Mutex
	state State

	closeOnce sync.Once
	closeErr  error
}

// Start allocates a callback port, attaches the security gate and token
// handler on every bound listener and returns the session in the WAITING
// state. On failure nothing stays bound and the error is one of
// *NoAvailablePortError or *BindError.
func Start(opts Options) (*Session, error) {
	if opts.PortRange.Count == 0 {
		opts.PortRange = DefaultPortRange
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		logger:   logger,
		future:   newTokenFuture(),
		cancelCh: make(chan struct{}),
		state:    StateSearching,
	}

	ln4, port, err := bindFirstFree(opts.PortRange)
	if err != nil {
		logger.Error("failed to bind callback listener",
			"range_start", opts.PortRange.Start,
			"range_end", opts.PortRange.End(),
			"error", err,
		)
		return nil, err
	}
	s.port = port
	s.setState(StateListening)

	listeners := []net.Listener{ln4}
	if ln6 := bindIPv6Mirror(port, logger); ln6 != nil {
		listeners = append(listeners, ln6)
	}

	handler := newSecurityGate(
		&tokenHandler{future: s.future, logger: logger},
		opts.AllowedOrigins,
		logger,
	)

	for _, ln := range listeners {
		srv := &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
		}
		s.servers = append(s.servers, srv)

		go func(srv *http.Server, ln net.Listener) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("callback listener terminated unexpectedly",
					"addr", ln.Addr().String(),
					"error", err,
				)
			}
		}(srv, ln)
	}

	logger.Info("callback listener ready",
		"port", port,
		"dual_stack", len(listeners) == 2,
	)
	s.setState(StateWaiting)
	return s, nil
}

// Port returns the bound callback port. Immutable once the session starts.
func (s *Session) Port() int {
	return s.port
}

// State returns the session's current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DualStack reports whether the IPv6 mirror listener is active.
func (s *Session) DualStack() bool {
	return len(s.servers) == 2
}

// AwaitToken blocks until the authorization page delivers a token, the
// timeout elapses, Cancel is called or ctx is done. Exactly one outcome is
// reported: the token, a *TimeoutError naming the elapsed duration, or
// ErrCancelled. The race is not retried; a token resolving after a timeout
// or cancellation is discarded.
func (s *Session) AwaitToken(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.future.done:
		// Cancellation beats a token that arrived in the same instant, so
		// an interrupt issued before delivery always reads as cancelled.
		select {
		case <-s.cancelCh:
			return "", s.terminalCancel(ctx)
		default:
		}
		s.setState(StateResolved)
		return s.future.value(), nil

	case <-timer.C:
		s.setState(StateTimedOut)
		return "", &TimeoutError{Elapsed: timeout}

	case <-s.cancelCh:
		return "", s.terminalCancel(ctx)

	case <-ctx.Done():
		return "", s.terminalCancel(ctx)
	}
}

func (s *Session) terminalCancel(ctx context.Context) error {
	s.setState(StateCancelled)
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return ErrCancelled
}

// Cancel aborts a pending AwaitToken with ErrCancelled. Safe to call from
// any goroutine, any number of times, at any point of the lifecycle.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelCh) })
}

// Close tears the session down: both listeners stop accepting connections
// immediately, in-flight responses get until the grace period to finish,
// then remaining sockets are forcibly closed. Close is idempotent and
// synchronous; when it returns, no socket owned by the session is open.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		graceCtx, cancel := context.WithTimeout(ctx, closeGracePeriod)
		defer cancel()

		var g errgroup.Group
		for _, srv := range s.servers {
			srv := srv
			g.Go(func() error {
				if err := srv.Shutdown(graceCtx); err != nil {
					// Grace period exhausted; terminate what is left.
					return srv.Close()
				}
				return nil
			})
		}
		s.closeErr = g.Wait()
		s.setState(StateClosed)
		s.logger.Debug("callback listeners closed", "port", s.port)
	})
	return s.closeErr
}

// setState advances the lifecycle. Terminal outcomes are sticky: once the
// session is RESOLVED, TIMED_OUT or CANCELLED only CLOSED may follow, so no
// state is ever reached twice.
func (s *Session) setState(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return
	case StateResolved, StateTimedOut, StateCancelled:
		if next != StateClosed {
			return
		}
	}
	s.state = next
}
