// Package dedup implements the frame deduplicator (§4.8 C5): a
// 3-second suppression window across multiple radios, keyed on raw
// payload bytes.
package dedup

import (
	"encoding/hex"
	"sync"
	"time"
)

// Window is the suppression interval (§3 "Frame dedup").
const Window = 3 * time.Second

// Deduplicator suppresses re-publication of a payload seen within the
// last Window, regardless of which radio delivered it.
type Deduplicator struct {
	mu      sync.Mutex
	lastSeen map[string]time.Time
	now     func() time.Time
}

// New creates a Deduplicator using the real wall clock.
func New() *Deduplicator {
	return &Deduplicator{lastSeen: make(map[string]time.Time), now: time.Now}
}

// Seen records payload, evicting entries older than Window on every
// call, and reports whether it should be republished (true) because it
// either was never seen or fell outside the window.
func (d *Deduplicator) Seen(payload []byte) bool {
	key := hex.EncodeToString(payload)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	for k, t := range d.lastSeen {
		if now.Sub(t) > Window {
			delete(d.lastSeen, k)
		}
	}

	last, ok := d.lastSeen[key]
	unique := !ok || now.Sub(last) > Window
	d.lastSeen[key] = now
	return unique
}
