package aprs

import (
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ChannelName is the broker channel name APRS traffic arrives on
// (§4.5 "filters by channel name \"APRS\"").
const ChannelName = "APRS"

// MaxStoredRecords bounds the in-memory/disk classified-packet log
// (§4.5 "capped at 1000 records").
const MaxStoredRecords = 1000

// FlushInterval throttles disk writes of the classified-packet log
// (§4.5 "flushed at most once per 60 s").
const FlushInterval = 60 * time.Second

// FrameOut is how the handler emits outgoing APRS UI frames.
type FrameOut interface {
	SendUI(info string)
}

// Record is one classified packet as retained for "aprsmsgs" and the
// disk log (§4.5 "Storage").
type Record struct {
	When        time.Time
	Source      string
	Destination string
	DataType    DataType
	MessageText string
	Direction   string // "received" or "sent"
}

// Config parameterizes a Handler.
type Config struct {
	LocalCallsign string
	// Secrets maps peer callsign (base, no SSID) to its shared secret
	// for HMAC authentication (§4.5 "For any configured {peer -> sharedSecret}").
	Secrets map[string]string
	// RequireAuth marks an incoming message lacking a token as
	// untrusted rather than simply unauthenticated (§4.5 "if auth
	// required by config and missing -> accept but mark NOT trusted").
	RequireAuth bool
	Now         func() time.Time
}

// Handler implements the APRS message flow (§4.5 C11).
type Handler struct {
	cfg      Config
	log      *log.Logger
	out      FrameOut
	seqCache *seqCache
	logDdup  *logDedup
	retry    *RetryQueue

	mu        sync.Mutex
	records   []Record
	dirty     bool
	lastFlush time.Time
	seq       int
	onFlush   func([]Record)
}

// New creates a Handler. onFlush, if non-nil, is called with the full
// record set whenever a throttled flush occurs (wiring point for a
// disk-backed sink).
func New(cfg Config, out FrameOut, logger *log.Logger, onFlush func([]Record)) *Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{
		cfg:       cfg,
		log:       logger,
		out:       out,
		seqCache:  newSeqCache(SeqCacheSize),
		logDdup:   newLogDedup(cfg.Now),
		lastFlush: cfg.Now(),
		onFlush:   onFlush,
	}
	h.retry = NewRetryQueue(sendLineAdapter{h})
	return h
}

type sendLineAdapter struct{ h *Handler }

func (a sendLineAdapter) SendLine(line string) { a.h.out.SendUI(line) }

// baseCallsign strips an SSID suffix ("N0CALL-5" -> "N0CALL").
func baseCallsign(call string) string {
	if idx := strings.IndexByte(call, '-'); idx >= 0 {
		return call[:idx]
	}
	return call
}

// HandleInfo processes one decoded APRS information field from source,
// addressed (at the AX.25 layer) to destination (§4.5).
func (h *Handler) HandleInfo(source, destination, info string) {
	dataType := Classify(info)

	if msg, ok := ParseMessage(info); ok && !msg.IsAck && msg.SeqID != "" {
		if h.seqCache.SeenBefore(source, msg.SeqID) {
			return
		}
	}

	addressedToUs := false
	var parsed ParsedMessage
	if dataType == TypeMessage {
		if m, ok := ParseMessage(info); ok {
			parsed = m
			addressedToUs = strings.EqualFold(strings.TrimSpace(m.Addressee), h.cfg.LocalCallsign) ||
				baseCallsign(strings.TrimSpace(m.Addressee)) == baseCallsign(h.cfg.LocalCallsign)
		}
	}

	if !addressedToUs {
		if !h.logDdup.SeenRecently(source, destination, dataType, info) {
			h.record(Record{When: h.cfg.Now(), Source: source, Destination: destination, DataType: dataType, MessageText: info, Direction: "received"})
		}
		return
	}

	if parsed.IsAck {
		if h.verifyIncomingAck(source, parsed) {
			h.retry.Ack(source, parsed.AckSeqID)
		} else {
			h.log.Warn("aprs: dropping ack with invalid token", "source", source, "seq", parsed.AckSeqID)
		}
		return
	}

	h.handleAddressedMessage(source, parsed)
}

// verifyIncomingAck checks an incoming ACK's token against the actual
// received ack text and our addressee (§4.5 "an authenticated ACK
// (verified with the actual received text against our addressee)
// clears the entry"). A peer with no configured shared secret has no
// auth relationship to verify, so its ACKs pass through unchecked.
func (h *Handler) verifyIncomingAck(source string, msg ParsedMessage) bool {
	secret, ok := h.cfg.Secrets[baseCallsign(source)]
	if !ok {
		return true
	}
	key := SecretKey(secret)
	return Verify(key, h.cfg.Now(), source, h.cfg.LocalCallsign, "ack"+msg.AckSeqID, "", msg.Token)
}

func (h *Handler) handleAddressedMessage(source string, msg ParsedMessage) {
	trusted := true
	authPresent := msg.Token != ""

	secret, haveSecret := h.cfg.Secrets[baseCallsign(source)]
	if authPresent {
		if !haveSecret {
			return // cannot verify a token we have no secret for: drop
		}
		key := SecretKey(secret)
		if !Verify(key, h.cfg.Now(), source, h.cfg.LocalCallsign, msg.Text, msg.SeqID, msg.Token) {
			return // auth present and failed: drop silently (§4.5)
		}
	} else if h.cfg.RequireAuth {
		trusted = false
	}

	var ackToken string
	if authPresent && haveSecret {
		ackToken = Token(SecretKey(secret), minuteCount(h.cfg.Now()), h.cfg.LocalCallsign, source, "ack"+msg.SeqID, "")
	}
	h.out.SendUI(EncodeAck(source, msg.SeqID, ackToken))

	text := msg.Text
	if strings.HasPrefix(strings.ToUpper(text), "ECHO:") {
		reply := strings.TrimPrefix(text, text[:5])
		if !trusted {
			reply = "[untrusted] " + reply
		}
		h.sendMessage(source, reply)
	}
}

// sendMessage enqueues and transmits an outgoing addressed message,
// authenticating it if a secret is configured for dest (§4.5).
func (h *Handler) sendMessage(dest, text string) {
	h.mu.Lock()
	h.seq++
	seqID := itoa(h.seq)
	h.mu.Unlock()

	var token string
	if secret, ok := h.cfg.Secrets[baseCallsign(dest)]; ok {
		token = Token(SecretKey(secret), minuteCount(h.cfg.Now()), h.cfg.LocalCallsign, dest, text, seqID)
	}
	line := EncodeMessage(dest, text, seqID, token)
	h.out.SendUI(line)
	h.retry.Enqueue(dest, seqID, line)
	h.record(Record{When: h.cfg.Now(), Source: h.cfg.LocalCallsign, Destination: dest, DataType: TypeMessage, MessageText: text, Direction: "sent"})
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (h *Handler) record(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	if len(h.records) > MaxStoredRecords {
		h.records = h.records[len(h.records)-MaxStoredRecords:]
	}
	h.dirty = true
	if h.cfg.Now().Sub(h.lastFlush) >= FlushInterval {
		h.flushLocked()
	}
}

func (h *Handler) flushLocked() {
	if !h.dirty {
		return
	}
	h.dirty = false
	h.lastFlush = h.cfg.Now()
	if h.onFlush != nil {
		h.onFlush(append([]Record(nil), h.records...))
	}
}

// Flush forces an immediate write regardless of throttling, for use at
// shutdown.
func (h *Handler) Flush() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flushLocked()
}

// Recent returns up to n most-recent records, newest first — the
// source for the BBS "aprsmsgs" command (§4.4).
func (h *Handler) Recent(n int) []AprsRecordSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]AprsRecordSummary, 0, n)
	for i := len(h.records) - 1; i >= 0 && len(out) < n; i-- {
		r := h.records[i]
		out = append(out, AprsRecordSummary{When: r.When, From: r.Source, To: r.Destination, Text: r.MessageText})
	}
	return out
}

// AprsRecordSummary has the same fields as bbs.AprsRecordSummary but is
// a distinct type, so this package does not import bbs (which would
// create an import cycle). Because Recent returns this type, Handler
// does not satisfy bbs.AprsSource directly; wiring the two together
// takes an adapter that converts the records.
type AprsRecordSummary struct {
	When time.Time
	From string
	To   string
	Text string
}
