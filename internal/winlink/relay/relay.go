// Package relay implements the transparent WinLink gateway relay
// (§4.6 C12): a byte-transparent bridge between a radio peer session
// and a TCP(+TLS) connection to a WinLink CMS.
package relay

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultPort is the CMS port used when none is configured (§4.6).
const DefaultPort = 8773

// LogCap bounds the relay log (§4.6 "capped at 200 entries").
const LogCap = 200

// LogFlushThrottle is the minimum gap between log writes (§4.6
// "≥60-s write throttling").
const LogFlushThrottle = 60 * time.Second

// Mode is the relay's current framing mode (§4.6).
type Mode int

const (
	ModeText Mode = iota
	ModeBinary
)

// RadioLink is the session-facing side of the relay — an
// ax25session.Session satisfies this directly.
type RadioLink interface {
	Send(data []byte, immediate bool)
}

// LogEntry is one completed relay session record (§4.6).
type LogEntry struct {
	Callsign      string
	Connect       time.Time
	Disconnect    time.Time
	DurationMS    int64
	BytesSent     int64
	BytesReceived int64
}

// Config parameterizes a Relay.
type Config struct {
	Host       string
	Port       int
	UseTLS     bool
	Callsign   string // remote operator's base callsign, recorded in each LogEntry
	Now        func() time.Time
	DialTLS    func(network, addr string, cfg *tls.Config) (net.Conn, error)
	Dial       func(network, addr string) (net.Conn, error)
}

// Relay bridges one radio session to one CMS TCP connection.
type Relay struct {
	cfg   Config
	log   *log.Logger
	radio RadioLink
	conn  net.Conn

	mu            sync.Mutex
	mode          Mode
	bytesSent     int64
	bytesReceived int64
	connectedAt   time.Time
	closed        bool

	onLog func(LogEntry)
}

// New dials the CMS and wires relay to radio; call Run to pump bytes.
func New(cfg Config, radio RadioLink, logger *log.Logger, onLog func(LogEntry)) (*Relay, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = log.Default()
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	var conn net.Conn
	var err error
	switch {
	case cfg.UseTLS && cfg.DialTLS != nil:
		conn, err = cfg.DialTLS("tcp", addr, &tls.Config{MinVersion: tls.VersionTLS12})
	case cfg.UseTLS:
		conn, err = tls.Dial("tcp", addr, &tls.Config{MinVersion: tls.VersionTLS12})
	case cfg.Dial != nil:
		conn, err = cfg.Dial("tcp", addr)
	default:
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		radio.Send([]byte("CMS Gateway connection failed.\r\n"), true)
		return nil, fmt.Errorf("relay: dial %s: %w", addr, err)
	}

	return &Relay{
		cfg:         cfg,
		log:         logger,
		radio:       radio,
		conn:        conn,
		mode:        ModeText,
		connectedAt: cfg.Now(),
		onLog:       onLog,
	}, nil
}

// Run forwards bytes between the radio peer and the CMS until either
// side closes. It blocks; call it on its own goroutine.
func (r *Relay) Run() {
	reader := bufio.NewReader(r.conn)
	for {
		r.mu.Lock()
		mode := r.mode
		closed := r.closed
		r.mu.Unlock()
		if closed {
			return
		}

		if mode == ModeBinary {
			buf := make([]byte, 4096)
			n, err := reader.Read(buf)
			if n > 0 {
				r.forwardToRadio(buf[:n])
			}
			if err != nil {
				r.teardown()
				return
			}
			continue
		}

		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			r.handleCMSLine(line)
		}
		if err != nil {
			r.teardown()
			return
		}
	}
}

func (r *Relay) handleCMSLine(line string) {
	r.forwardToRadio([]byte(line))
	r.maybeSwitchMode(line)
}

// FromRadio handles one inbound chunk from the radio peer (called by
// the router/session layer as dataReceived fires).
func (r *Relay) FromRadio(data []byte) {
	r.mu.Lock()
	r.bytesReceived += int64(len(data))
	mode := r.mode
	r.mu.Unlock()

	if _, err := r.conn.Write(data); err != nil {
		r.teardown()
		return
	}
	if mode == ModeText {
		r.maybeSwitchMode(string(data))
	}
}

func (r *Relay) forwardToRadio(data []byte) {
	r.mu.Lock()
	r.bytesSent += int64(len(data))
	r.mu.Unlock()
	r.radio.Send(data, true)
}

// maybeSwitchMode applies the FS/FF/FQ mode-switch rule (§4.6 "Binary
// mode: begins when either side sends a line starting with FS
// containing Y ... ends on FF or FQ").
func (r *Relay) maybeSwitchMode(line string) {
	trimmed := strings.TrimRight(line, "\r\n")
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case strings.HasPrefix(trimmed, "FS") && strings.Contains(trimmed, "Y"):
		r.mode = ModeBinary
	case strings.HasPrefix(trimmed, "FF"), strings.HasPrefix(trimmed, "FQ"):
		r.mode = ModeText
	}
}

func (r *Relay) teardown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entry := LogEntry{
		Callsign:      r.cfg.Callsign,
		Connect:       r.connectedAt,
		Disconnect:    r.cfg.Now(),
		DurationMS:    r.cfg.Now().Sub(r.connectedAt).Milliseconds(),
		BytesSent:     r.bytesSent,
		BytesReceived: r.bytesReceived,
	}
	r.mu.Unlock()

	_ = r.conn.Close()
	if r.onLog != nil {
		r.onLog(entry)
	}
}

// Close tears down the relay from the radio side, closing the CMS
// connection. When the CMS side closes instead, Run ends and logs the
// session, but the Relay does not disconnect the radio session.
func (r *Relay) Close() {
	r.teardown()
}

// Log keeps the capped, throttled log of completed relay
// sessions (§4.6). Owned by the component wiring Relay instances, not
// by Relay itself, since many Relays share one log.
type Log struct {
	mu        sync.Mutex
	entries   []LogEntry
	now       func() time.Time
	lastFlush time.Time
	onFlush   func([]LogEntry)
}

// NewLog creates an empty throttled relay log.
func NewLog(now func() time.Time, onFlush func([]LogEntry)) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{now: now, onFlush: onFlush, lastFlush: now()}
}

// Append records entry, capping at LogCap and flushing if the throttle
// window has elapsed.
func (l *Log) Append(entry LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > LogCap {
		l.entries = l.entries[len(l.entries)-LogCap:]
	}
	if l.now().Sub(l.lastFlush) >= LogFlushThrottle {
		l.flushLocked()
	}
}

func (l *Log) flushLocked() {
	l.lastFlush = l.now()
	if l.onFlush != nil {
		l.onFlush(append([]LogEntry(nil), l.entries...))
	}
}

// Flush forces an immediate write.
func (l *Log) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flushLocked()
}
