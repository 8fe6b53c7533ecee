package loopback

import "sync"

// tokenFuture is a single-assignment cell for the token delivered by the
// browser callback. Listener goroutines may race to resolve it; exactly one
// wins and every later attempt is a no-op. Reads of the value must happen
// after the done channel is closed.
type tokenFuture struct {
	mu       sync.Mutex
	resolved bool
	token    string
	done     chan struct{}
}

func newTokenFuture() *tokenFuture {
	return &tokenFuture{done: make(chan struct{})}
}

// resolve assigns the token and reports whether this call won the
// assignment. Subsequent calls return false and leave the value untouched.
func (f *tokenFuture) resolve(token string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.resolved {
		return false
	}
	f.resolved = true
	f.token = token
	close(f.done)
	return true
}

// value returns the resolved token. Only valid after done is closed.
func (f *tokenFuture) value() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}
