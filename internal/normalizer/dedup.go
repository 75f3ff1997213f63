package normalizer

import (
	"sync"
	"time"
)

// Window is the in-process dedup set: a FIFO ring of recent
// fingerprints with a TTL. When the ring is full the oldest entry is
// evicted, never the whole set, so a burst cannot blow the window
// open. State is per process; the guarded status updates in the
// database backstop anything that slips past a replica's window.
//
// Seen and Observe are separate so the consumer can record a
// fingerprint only after its normalized message is safely published.
// Recording up front would make a failed handler's own retry look
// like a duplicate and strand the alert.
type Window struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ring []string
	head int
	size int
	ttl  time.Duration
	now  func() time.Time
}

// NewWindow builds a window holding up to size fingerprints for ttl.
// A ttl of zero means entries live until evicted by capacity.
func NewWindow(size int, ttl time.Duration) *Window {
	if size <= 0 {
		size = 10000
	}
	return &Window{
		seen: make(map[string]time.Time, size),
		ring: make([]string, size),
		size: size,
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen reports whether the fingerprint is currently inside the window.
func (w *Window) Seen(fingerprint string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	expiry, ok := w.seen[fingerprint]
	if !ok {
		return false
	}
	return w.ttl == 0 || w.now().Before(expiry)
}

// Observe records the fingerprint, evicting the oldest entry when the
// ring is full. Re-observing a known fingerprint refreshes its TTL
// without spending another slot.
func (w *Window) Observe(fingerprint string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var expiry time.Time
	if w.ttl > 0 {
		expiry = w.now().Add(w.ttl)
	}
	if _, ok := w.seen[fingerprint]; ok {
		w.seen[fingerprint] = expiry
		return
	}

	if old := w.ring[w.head]; old != "" {
		delete(w.seen, old)
	}
	w.ring[w.head] = fingerprint
	w.head = (w.head + 1) % w.size
	w.seen[fingerprint] = expiry
}

// Len reports how many fingerprints are currently tracked.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
