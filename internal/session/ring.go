package session

import "sync"

// outputRing keeps the most recent terminal output so clients joining later
// can replay what they missed. Fixed capacity; old bytes are discarded.
type outputRing struct {
	mu   sync.Mutex
	buf  []byte
	max  int
	full bool
	w    int
}

func newOutputRing(capacity int) *outputRing {
	return &outputRing{buf: make([]byte, capacity), max: capacity}
}

func (r *outputRing) Write(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(p) >= r.max {
		copy(r.buf, p[len(p)-r.max:])
		r.w = 0
		r.full = true
		return
	}
	n := copy(r.buf[r.w:], p)
	if n < len(p) {
		copy(r.buf, p[n:])
		r.full = true
	}
	r.w = (r.w + len(p)) % r.max
	if r.w == 0 && len(p) > 0 {
		r.full = true
	}
}

// Bytes returns a copy of the buffered output in arrival order.
func (r *outputRing) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]byte, r.w)
		copy(out, r.buf[:r.w])
		return out
	}
	out := make([]byte, r.max)
	n := copy(out, r.buf[r.w:])
	copy(out[n:], r.buf[:r.w])
	return out
}
