// Package packetstore keeps an in-memory ring of recently seen radio
// fragments and a throttled append-only disk log in the
// "packets.ptcap" record format (§4.8 C6).
package packetstore

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
)

// RingSize is the number of most-recent fragments kept in memory.
const RingSize = 2000

// FlushInterval is the minimum time between disk appends (§5 write batching).
const FlushInterval = 60 * time.Second

var timestampFormat = strftime.MustNew("%Y-%m-%d %H:%M:%S")

// Record is one fragment observation, matching the "packets.ptcap"
// line format: timestamp,incoming,TncFrag4,channelId,radioId,
// channelName,dataHex,encoding,frameType,corrections,radioMac.
type Record struct {
	Timestamp   time.Time
	Incoming    bool
	ChannelID   int
	RadioID     string
	ChannelName string
	Data        []byte
	Encoding    string
	FrameType   string
	Corrections int
	RadioMAC    string
}

func (r Record) line() string {
	var ts strings.Builder
	_ = timestampFormat.Format(&ts, r.Timestamp.UTC())
	return strings.Join([]string{
		ts.String(),
		strconv.FormatBool(r.Incoming),
		"TncFrag4",
		strconv.Itoa(r.ChannelID),
		r.RadioID,
		r.ChannelName,
		hex.EncodeToString(r.Data),
		r.Encoding,
		r.FrameType,
		strconv.Itoa(r.Corrections),
		r.RadioMAC,
	}, ",")
}

// Store is the in-memory ring plus throttled disk log.
type Store struct {
	mu        sync.Mutex
	log       *log.Logger
	path      string
	ring      []Record
	next      int
	count     int
	pending   []Record
	lastFlush time.Time
	now       func() time.Time
}

// New creates a Store that appends to path (created if absent).
func New(logger *log.Logger, path string) *Store {
	return &Store{
		log:  logger,
		path: path,
		ring: make([]Record, RingSize),
		now:  time.Now,
	}
}

// Add records r in the ring and queues it for the next throttled
// flush; a flush happens immediately if FlushInterval has elapsed
// since the last one.
func (s *Store) Add(r Record) {
	s.mu.Lock()
	s.ring[s.next] = r
	s.next = (s.next + 1) % RingSize
	if s.count < RingSize {
		s.count++
	}
	s.pending = append(s.pending, r)
	due := s.lastFlush.IsZero() || s.now().Sub(s.lastFlush) >= FlushInterval
	s.mu.Unlock()

	if due {
		s.Flush()
	}
}

// Recent returns up to n most-recent records, newest first.
func (s *Store) Recent(n int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > s.count {
		n = s.count
	}
	out := make([]Record, 0, n)
	idx := s.next
	for i := 0; i < n; i++ {
		idx = (idx - 1 + RingSize) % RingSize
		out = append(out, s.ring[idx])
	}
	return out
}

// Flush appends any pending records to disk immediately, bypassing the
// throttle. Intended for process-termination hooks (§5).
func (s *Store) Flush() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.lastFlush = s.now()
	path := s.path
	s.mu.Unlock()

	if len(pending) == 0 || path == "" {
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		if s.log != nil {
			s.log.Error("packet store flush failed to open file", "path", path, "err", err)
		}
		return
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, r := range pending {
		if _, err := fmt.Fprintln(w, r.line()); err != nil {
			if s.log != nil {
				s.log.Error("packet store flush write failed", "err", err)
			}
			return
		}
	}
	if err := w.Flush(); err != nil && s.log != nil {
		s.log.Error("packet store flush failed", "err", err)
	}
}
