// Package broker implements the process-wide topic bus (§4.9): a
// (deviceId, name) -> value store with wildcard subscriptions and
// debounced persistence for deviceId 0.
package broker

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// AllDevices is the wildcard deviceId matching any dispatch.
const AllDevices = -1

// WildcardName is the wildcard topic name matching any dispatch.
const WildcardName = "*"

// Well-known system topics (§4.9).
const (
	TopicDataFrame        = "DataFrame"
	TopicUniqueDataFrame  = "UniqueDataFrame"
	TopicPacketStoreReady = "PacketStoreReady"
	TopicRequestPacketList = "RequestPacketList"
	TopicPacketList       = "PacketList"
	TopicAprsFrame        = "AprsFrame"
	TopicAprsStoreReady   = "AprsStoreReady"
	TopicSendAprsMessage  = "SendAprsMessage"
	TopicWinlinkStatus    = "WinlinkStatus"
	TopicWinlinkLog       = "WinlinkLog"
	TopicWinlinkLogEntry  = "WinlinkLogEntry"
)

type topicKey struct {
	deviceID int
	name     string
}

// Handler receives a dispatched value. Panics inside a handler are
// recovered and logged so one bad subscriber cannot poison the bus
// (§5 "Fault isolation").
type Handler func(deviceID int, name string, value any)

type subscription struct {
	id       uuid.UUID
	deviceID int
	name     string
	handler  Handler
}

// Broker is the process-wide topic bus.
type Broker struct {
	mu   sync.Mutex
	log  *log.Logger
	vals map[topicKey]any
	subs map[uuid.UUID]*subscription

	persistPath  string
	dirty        bool
	flushTimer   *time.Timer
	flushEvery   time.Duration
}

// New creates a Broker. persistPath, if non-empty, is the JSON side
// file that device-0 values are debounce-flushed to (§4.9, §5 write
// batching: >=60s between flushes).
func New(logger *log.Logger, persistPath string) *Broker {
	b := &Broker{
		log:         logger,
		vals:        make(map[topicKey]any),
		subs:        make(map[uuid.UUID]*subscription),
		persistPath: persistPath,
		flushEvery:  60 * time.Second,
	}
	if persistPath != "" {
		b.loadPersisted()
	}
	return b
}

// Client is an owned handle through which subscriptions are made;
// disposing it removes every subscription it created (§4.9).
type Client struct {
	b    *Broker
	mu   sync.Mutex
	subs []uuid.UUID
}

// NewClient returns a fresh client handle bound to this broker.
func (b *Broker) NewClient() *Client {
	return &Client{b: b}
}

// Subscribe registers handler for deviceID (or AllDevices) and name
// (or WildcardName), returning nothing — the subscription is owned by
// the client and removed on Dispose.
func (c *Client) Subscribe(deviceID int, name string, handler Handler) {
	c.b.mu.Lock()
	sub := &subscription{id: uuid.New(), deviceID: deviceID, name: name, handler: handler}
	c.b.subs[sub.id] = sub
	c.b.mu.Unlock()

	c.mu.Lock()
	c.subs = append(c.subs, sub.id)
	c.mu.Unlock()
}

// Dispose removes all of this client's subscriptions.
func (c *Client) Dispose() {
	c.mu.Lock()
	ids := c.subs
	c.subs = nil
	c.mu.Unlock()

	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	for _, id := range ids {
		delete(c.b.subs, id)
	}
}

// GetValue resolves a topic from memory, falling back to the
// persisted cache for device 0 (which is loaded into memory at
// construction, so in practice this is just the in-memory read).
func (b *Broker) GetValue(deviceID int, name string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.vals[topicKey{deviceID, name}]
	return v, ok
}

// Dispatch stores value (if store) under (deviceID, name) and delivers
// it to every matching subscription. The order across subscriptions is
// not defined (they are kept in a map); a given subscription receives
// values in the order Dispatch is called (§5 "Broker deliveries... are
// in dispatch order").
func (b *Broker) Dispatch(deviceID int, name string, value any, store bool) {
	b.mu.Lock()
	if store {
		b.vals[topicKey{deviceID, name}] = value
		if deviceID == 0 {
			b.dirty = true
			b.scheduleFlushLocked()
		}
	}
	matches := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if (sub.deviceID == AllDevices || sub.deviceID == deviceID) &&
			(sub.name == WildcardName || sub.name == name) {
			matches = append(matches, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range matches {
		b.invoke(sub, deviceID, name, value)
	}
}

func (b *Broker) invoke(sub *subscription, deviceID int, name string, value any) {
	defer func() {
		if r := recover(); r != nil {
			if b.log != nil {
				b.log.Error("subscriber panicked", "topic", name, "deviceId", deviceID, "recover", r)
			}
		}
	}()
	sub.handler(deviceID, name, value)
}

func (b *Broker) scheduleFlushLocked() {
	if b.persistPath == "" || b.flushTimer != nil {
		return
	}
	b.flushTimer = time.AfterFunc(b.flushEvery, b.flush)
}

func (b *Broker) flush() {
	b.mu.Lock()
	if !b.dirty {
		b.flushTimer = nil
		b.mu.Unlock()
		return
	}
	snapshot := make(map[string]any)
	for k, v := range b.vals {
		if k.deviceID == 0 {
			snapshot[k.name] = v
		}
	}
	b.dirty = false
	b.flushTimer = nil
	path := b.persistPath
	b.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		if b.log != nil {
			b.log.Error("broker persistence marshal failed", "err", err)
		}
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		if b.log != nil {
			b.log.Error("broker persistence write failed", "path", path, "err", err)
		}
	}
}

func (b *Broker) loadPersisted() {
	data, err := os.ReadFile(b.persistPath)
	if err != nil {
		return
	}
	var snapshot map[string]any
	if err := json.Unmarshal(data, &snapshot); err != nil {
		if b.log != nil {
			b.log.Error("broker persistence load failed", "err", err)
		}
		return
	}
	for name, v := range snapshot {
		b.vals[topicKey{0, name}] = v
	}
}

// Flush forces an immediate persistence write, bypassing the debounce
// window. Intended for graceful-shutdown hooks.
func (b *Broker) Flush() {
	b.mu.Lock()
	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}
	b.mu.Unlock()
	b.flush()
}
