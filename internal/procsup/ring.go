package procsup

import (
	"strings"
	"sync"
)

// ring is a bounded stderr capture buffer. Helper processes can be very
// chatty; only the most recent bytes matter for diagnostics.
type ring struct {
	mu  sync.Mutex
	buf []byte
	cap int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]byte, 0, capacity), cap: capacity}
}

func (r *ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) >= r.cap {
		r.buf = append(r.buf[:0], p[len(p)-r.cap:]...)
		return len(p), nil
	}
	if len(r.buf)+len(p) <= r.cap {
		r.buf = append(r.buf, p...)
		return len(p), nil
	}
	drop := (len(r.buf) + len(p)) - r.cap
	r.buf = append(r.buf[drop:], p...)
	return len(p), nil
}

func (r *ring) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.buf)
}

// Tail returns at most the last n lines of captured output.
func (r *ring) Tail(n int) string {
	s := strings.TrimRight(r.String(), "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
