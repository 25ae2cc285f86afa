// Package ax25session implements the AX.25 v2.2 connection-oriented
// session state machine for one remote peer on one locked channel
// (spec §4.2 C3): windowing, poll/final handshakes, SREJ/REJ recovery,
// and T1/T2/T3 timers.
//
// The external session module this station core would normally treat
// as a black box is, per spec §1, reimplemented faithfully here
// because the BBS/WinLink/APRS layers depend on its exact contract.
package ax25session

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/doismellburning/htstation/internal/ax25"
)

// State is one of the four session states (§3).
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "?"
	}
}

// Default timer/retry/window parameters (§4.2, §5). The spec leaves
// exact values to the implementation; these mirror the commonly used
// AX.25 2.2 defaults.
const (
	DefaultT1          = 3 * time.Second
	DefaultT2          = 1 * time.Second
	DefaultT3          = 180 * time.Second
	DefaultRetries     = 10
	DefaultPayloadSize = 236 // leaves room for a 2-byte modulo-128 control + PID in a 256-byte AX.25 info field budget
	coalesceDelay      = 20 * time.Millisecond
)

func windowSize(modulus int) int {
	if modulus == 128 {
		return 32
	}
	return 4
}

// FrameSender is the outbound half of the external radio transport
// contract (§6): accept one encoded AX.25 frame for transmission on
// the session's locked channel.
type FrameSender interface {
	SendFrame(channelID string, frame *ax25.Frame) error
}

// Stats are the statistics observable at teardown (§4.2).
type Stats struct {
	BytesSent       int
	BytesReceived   int
	PacketsSent     int
	PacketsReceived int
	ConnectedAt     time.Time
	DurationSeconds float64
}

// Callbacks are the session's upward events (§4.2 public surface).
// Any nil field is simply not invoked.
type Callbacks struct {
	OnStateChanged func(State)
	OnDataReceived func([]byte)
	OnUIData       func(*ax25.Frame)
	OnError        func(error)
}

// Session is the per-peer connection-oriented state machine.
type Session struct {
	mu sync.Mutex

	local     ax25.Address
	remote    ax25.Address
	channelID string // locked at Open/inbound-SABM time, never changed after
	sender    FrameSender
	log       *log.Logger
	cb        Callbacks

	state   State
	modulus int

	vs, vr, va int
	peerBusy   bool

	connectRetries int
	discRetries    int
	ackRetries     int
	idleRetries    int
	maxRetries     int
	payloadSize    int

	t1, t2, t3    *time.Timer
	coalesceTimer *time.Timer

	srejRequested map[int]bool // at most one SREJ/REJ outstanding per gap (§4.2 invariant)

	outgoingChunks [][]byte
	coalesceBuf    []byte
	unacked        map[int][]byte
	unackedOrder   []int

	stats     Stats
	startedAt time.Time

	preferModulo128 bool
}

// New creates a session for remote on channelID, owned by the local
// station address. preferModulo128 governs which U-frame a locally
// initiated Open() sends; an inbound SABM/SABME always dictates the
// modulus regardless of this preference.
func New(local, remote ax25.Address, channelID string, sender FrameSender, logger *log.Logger, cb Callbacks, preferModulo128 bool) *Session {
	return &Session{
		local:           local,
		remote:          remote,
		channelID:       channelID,
		sender:          sender,
		log:             logger,
		cb:              cb,
		state:           StateDisconnected,
		modulus:         8,
		maxRetries:      DefaultRetries,
		payloadSize:     DefaultPayloadSize,
		srejRequested:   make(map[int]bool),
		unacked:         make(map[int][]byte),
		preferModulo128: preferModulo128,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ChannelID() string {
	return s.channelID
}

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	if !s.startedAt.IsZero() {
		st.DurationSeconds = time.Since(s.startedAt).Seconds()
	}
	return st
}

func (s *Session) setStateLocked(ns State) {
	if s.state == ns {
		return
	}
	s.state = ns
	if ns == StateConnected && s.startedAt.IsZero() {
		s.startedAt = time.Now()
		s.stats.ConnectedAt = s.startedAt
	}
	if cb := s.cb.OnStateChanged; cb != nil {
		cb(ns)
	}
}

func (s *Session) emitError(err error) {
	if cb := s.cb.OnError; cb != nil {
		cb(err)
	}
}

// addresses returns [destination, source] for an outbound frame: the
// remote station in the destination slot, local in the source slot,
// per §4.2 "local callsign in the source slot".
func (s *Session) addresses() []ax25.Address {
	dst := s.remote
	dst.CRBit1 = true
	src := s.local
	src.CRBit1 = false
	src.CRBit2 = s.modulus == 128
	return []ax25.Address{dst, src}
}

func (s *Session) sendU(utype ax25.UType, pf bool) {
	f := &ax25.Frame{
		Addresses: s.addresses(),
		Command:   true,
		Modulo128: s.modulus == 128,
		Kind:      ax25.KindU,
		UType:     utype,
		PF:        pf,
	}
	s.transmit(f)
}

func (s *Session) sendS(stype ax25.SType, pf bool) {
	f := &ax25.Frame{
		Addresses: s.addresses(),
		Command:   true,
		Modulo128: s.modulus == 128,
		Kind:      ax25.KindS,
		SType:     stype,
		NR:        s.vr,
		PF:        pf,
	}
	s.transmit(f)
}

func (s *Session) sendI(ns int, payload []byte, pf bool) {
	pid := byte(0xf0)
	f := &ax25.Frame{
		Addresses: s.addresses(),
		Command:   true,
		Modulo128: s.modulus == 128,
		Kind:      ax25.KindI,
		NS:        ns,
		NR:        s.vr,
		PF:        pf,
		PID:       &pid,
		Payload:   payload,
	}
	s.transmit(f)
}

func (s *Session) transmit(f *ax25.Frame) {
	if s.sender == nil {
		return
	}
	if err := s.sender.SendFrame(s.channelID, f); err != nil {
		if s.log != nil {
			s.log.Error("ax25session: send failed", "remote", s.remote, "err", err)
		}
		return
	}
	s.stats.PacketsSent++
	if f.Kind == ax25.KindI {
		s.stats.BytesSent += len(f.Payload)
	}
}

// Open starts a locally initiated connection (§4.2 CONNECTING).
func (s *Session) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateDisconnected {
		return
	}
	s.modulus = 8
	utype := ax25.USABM
	if s.preferModulo128 {
		s.modulus = 128
		utype = ax25.USABME
	}
	s.vs, s.vr, s.va = 0, 0, 0
	s.connectRetries = 0
	s.setStateLocked(StateConnecting)
	s.sendU(utype, true)
	s.armT1Locked(s.retrySABM)
}

func (s *Session) retrySABM() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return
	}
	s.connectRetries++
	if s.connectRetries > s.maxRetries {
		s.setStateLocked(StateDisconnected)
		s.emitError(fmt.Errorf("ax25session: no response to connection request from %s", s.remote))
		return
	}
	utype := ax25.USABM
	if s.preferModulo128 {
		utype = ax25.USABME
	}
	s.sendU(utype, true)
	s.armT1Locked(s.retrySABM)
}

// Disconnect begins a locally initiated teardown (§4.2 DISCONNECTING).
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return
	}
	s.stopAllTimersLocked()
	s.discRetries = 0
	s.setStateLocked(StateDisconnecting)
	s.sendU(ax25.UDISC, true)
	s.armT1Locked(s.retryDISC)
}

func (s *Session) retryDISC() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateDisconnecting {
		return
	}
	s.discRetries++
	if s.discRetries > s.maxRetries {
		s.finishTeardownLocked()
		s.emitError(fmt.Errorf("ax25session: no response to disconnect from %s", s.remote))
		return
	}
	s.sendU(ax25.UDISC, true)
	s.armT1Locked(s.retryDISC)
}

func (s *Session) finishTeardownLocked() {
	s.stopAllTimersLocked()
	s.setStateLocked(StateDisconnected)
}

// Receive delivers one inbound frame addressed to this session.
func (s *Session) Receive(f *ax25.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.PacketsReceived++

	switch f.Kind {
	case ax25.KindU:
		s.receiveULocked(f)
	case ax25.KindI:
		s.stats.BytesReceived += len(f.Payload)
		s.receiveILocked(f)
	case ax25.KindS:
		s.receiveSLocked(f)
	}
}

func (s *Session) receiveULocked(f *ax25.Frame) {
	switch f.UType {
	case ax25.USABM, ax25.USABME:
		switch s.state {
		case StateDisconnected, StateConnected:
			s.modulus = ax25.ModulusFromUType(f.UType)
			s.vs, s.vr, s.va = 0, 0, 0
			s.srejRequested = make(map[int]bool)
			s.unacked = make(map[int][]byte)
			s.unackedOrder = nil
			s.outgoingChunks = nil
			s.coalesceBuf = nil
			s.stopAllTimersLocked()
			s.sendU(ax25.UUA, f.PF)
			s.setStateLocked(StateConnected)
			s.armT3Locked()
		}
	case ax25.UDISC:
		switch s.state {
		case StateConnected, StateDisconnecting:
			s.sendU(ax25.UUA, f.PF)
			s.finishTeardownLocked()
		default:
			s.sendU(ax25.UDM, f.PF)
		}
	case ax25.UUA:
		switch s.state {
		case StateConnecting:
			s.stopAllTimersLocked()
			s.connectRetries = 0
			s.setStateLocked(StateConnected)
			s.armT3Locked()
		case StateDisconnecting:
			s.finishTeardownLocked()
		}
	case ax25.UDM:
		switch s.state {
		case StateConnecting:
			s.stopAllTimersLocked()
			s.setStateLocked(StateDisconnected)
			s.emitError(fmt.Errorf("ax25session: connection to %s refused", s.remote))
		case StateDisconnecting, StateConnected:
			s.finishTeardownLocked()
		}
	}
}

func (s *Session) receiveILocked(f *ax25.Frame) {
	if s.state != StateConnected {
		return
	}
	s.armT3Locked() // any traffic resets the idle probe

	if f.NS == s.vr {
		if cb := s.cb.OnDataReceived; cb != nil {
			cb(f.Payload)
		}
		s.vr = (s.vr + 1) % s.modulus
		delete(s.srejRequested, s.vr)
		s.armT2Locked()
	} else if !s.srejRequested[f.NS] {
		s.srejRequested[f.NS] = true
		if s.modulus == 128 {
			s.sendS(ax25.SSREJ, f.PF)
		} else {
			s.sendS(ax25.SREJ, f.PF)
		}
	}
	s.advanceVALocked(f.NR)
}

func (s *Session) receiveSLocked(f *ax25.Frame) {
	if s.state != StateConnected {
		return
	}
	s.armT3Locked()
	switch f.SType {
	case ax25.SRR:
		s.peerBusy = false
		s.advanceVALocked(f.NR)
		s.pumpLocked()
	case ax25.SRNR:
		s.peerBusy = true
		s.advanceVALocked(f.NR)
	case ax25.SREJ:
		s.peerBusy = false
		s.retransmitFromLocked(f.NR)
	case ax25.SSREJ:
		s.peerBusy = false
		if payload, ok := s.unacked[f.NR]; ok {
			s.sendI(f.NR, payload, false)
		}
	}
}

// advanceVALocked processes a received N(R): acknowledges frames up to
// nr-1 (go-back-N bookkeeping), keeping the invariant V(A) <= V(S).
func (s *Session) advanceVALocked(nr int) {
	for s.va != nr && len(s.unackedOrder) > 0 {
		delete(s.unacked, s.unackedOrder[0])
		s.unackedOrder = s.unackedOrder[1:]
		s.va = (s.va + 1) % s.modulus
	}
	s.va = nr
	if len(s.unacked) == 0 {
		s.stopT1Locked()
		s.ackRetries = 0
	}
	s.pumpLocked()
}

func (s *Session) retransmitFromLocked(from int) {
	ns := from
	for {
		payload, ok := s.unacked[ns]
		if !ok {
			break
		}
		s.sendI(ns, payload, false)
		ns = (ns + 1) % s.modulus
		if ns == s.vs {
			break
		}
	}
}

// Send enqueues data for delivery, fragmenting it into I-frames of up
// to payloadSize bytes respecting the send window. immediate bypasses
// per-session coalescing of small writes (§4.2, §5).
func (s *Session) Send(data []byte, immediate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return
	}
	s.coalesceBuf = append(s.coalesceBuf, data...)
	if immediate {
		s.flushCoalesceLocked()
		s.pumpLocked()
		return
	}
	if s.coalesceTimer == nil {
		s.coalesceTimer = time.AfterFunc(coalesceDelay, s.coalesceFired)
	}
}

func (s *Session) coalesceFired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coalesceTimer = nil
	s.flushCoalesceLocked()
	s.pumpLocked()
}

func (s *Session) flushCoalesceLocked() {
	for len(s.coalesceBuf) > 0 {
		n := s.payloadSize
		if n > len(s.coalesceBuf) {
			n = len(s.coalesceBuf)
		}
		s.outgoingChunks = append(s.outgoingChunks, s.coalesceBuf[:n])
		s.coalesceBuf = s.coalesceBuf[n:]
	}
}

// pumpLocked transmits queued chunks while the send window and peer
// busy state allow it (§5 "absorbs backpressure through its send window").
func (s *Session) pumpLocked() {
	if s.state != StateConnected || s.peerBusy {
		return
	}
	win := windowSize(s.modulus)
	for len(s.outgoingChunks) > 0 && len(s.unacked) < win {
		chunk := s.outgoingChunks[0]
		s.outgoingChunks = s.outgoingChunks[1:]
		ns := s.vs
		s.unacked[ns] = chunk
		s.unackedOrder = append(s.unackedOrder, ns)
		s.vs = (s.vs + 1) % s.modulus
		s.sendI(ns, chunk, false)
		s.armT1Locked(s.retryUnacked)
	}
}

func (s *Session) retryUnacked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || len(s.unacked) == 0 {
		return
	}
	s.ackRetries++
	if s.ackRetries > s.maxRetries {
		s.finishTeardownLocked()
		s.emitError(fmt.Errorf("ax25session: ack timeout with %s exhausted retry budget", s.remote))
		return
	}
	s.retransmitFromLocked(s.unackedOrder[0])
	s.armT1Locked(s.retryUnacked)
}

// --- timers ---

func (s *Session) armT1Locked(fn func()) {
	s.stopT1Locked()
	s.t1 = time.AfterFunc(DefaultT1, fn)
}

func (s *Session) stopT1Locked() {
	if s.t1 != nil {
		s.t1.Stop()
		s.t1 = nil
	}
}

func (s *Session) armT2Locked() {
	if s.t2 != nil {
		return // a deferred ack is already scheduled
	}
	s.t2 = time.AfterFunc(DefaultT2, s.sendDeferredRR)
}

func (s *Session) sendDeferredRR() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t2 = nil
	if s.state != StateConnected {
		return
	}
	s.sendS(ax25.SRR, false)
}

func (s *Session) armT3Locked() {
	if s.t3 != nil {
		s.t3.Stop()
	}
	s.idleRetries = 0
	s.t3 = time.AfterFunc(DefaultT3, s.idleProbe)
}

func (s *Session) idleProbe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return
	}
	s.idleRetries++
	if s.idleRetries > s.maxRetries {
		s.finishTeardownLocked()
		s.emitError(fmt.Errorf("ax25session: keep-alive to %s exhausted retry budget", s.remote))
		return
	}
	s.sendS(ax25.SRR, true)
	s.t3 = time.AfterFunc(DefaultT1, s.idleProbe)
}

func (s *Session) stopAllTimersLocked() {
	s.stopT1Locked()
	if s.t2 != nil {
		s.t2.Stop()
		s.t2 = nil
	}
	if s.t3 != nil {
		s.t3.Stop()
		s.t3 = nil
	}
	if s.coalesceTimer != nil {
		s.coalesceTimer.Stop()
		s.coalesceTimer = nil
	}
}
