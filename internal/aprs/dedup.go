package aprs

import (
	"container/list"
	"sync"
	"time"
)

// SeqCacheSize is the LRU bound on the {sender,seqId} cache (§4.5,
// Data Model "Bounded LRU of 100").
const SeqCacheSize = 100

// PersistentDedupWindow bounds the disk-log duplicate filter (§4.5
// "10-minute persistent dedupe").
const PersistentDedupWindow = 10 * time.Minute

type seqKey struct {
	sender string
	seqID  string
}

// seqCache is a fixed-capacity LRU suppressing reprocessing of a
// {sender, seqId} pair already seen (§4.5 "Duplicate suppression").
type seqCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	index    map[seqKey]*list.Element
}

func newSeqCache(capacity int) *seqCache {
	return &seqCache{capacity: capacity, ll: list.New(), index: make(map[seqKey]*list.Element)}
}

// SeenBefore reports whether key was already recorded, moving it to
// most-recently-used if so; otherwise records it, evicting the LRU
// entry if the cache is full.
func (c *seqCache) SeenBefore(sender, seqID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := seqKey{sender, seqID}
	if el, ok := c.index[key]; ok {
		c.ll.MoveToFront(el)
		return true
	}
	el := c.ll.PushFront(key)
	c.index[key] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.index, oldest.Value.(seqKey))
		}
	}
	return false
}

// logDedupKey identifies a record for the persistent disk-log filter
// (§4.5 "{source, destination, dataType, messageText, direction=received}").
type logDedupKey struct {
	source      string
	destination string
	dataType    DataType
	messageText string
}

type logDedup struct {
	mu   sync.Mutex
	seen map[logDedupKey]time.Time
	now  func() time.Time
}

func newLogDedup(now func() time.Time) *logDedup {
	return &logDedup{seen: make(map[logDedupKey]time.Time), now: now}
}

// SeenRecently reports whether key (received direction only) was
// recorded within PersistentDedupWindow, evicting stale entries.
func (d *logDedup) SeenRecently(source, destination string, dataType DataType, messageText string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, t := range d.seen {
		if now.Sub(t) > PersistentDedupWindow {
			delete(d.seen, k)
		}
	}
	key := logDedupKey{source, destination, dataType, messageText}
	if _, ok := d.seen[key]; ok {
		return true
	}
	d.seen[key] = now
	return false
}
