// Package b2f implements the B2F proposal/compression exchange as an
// alternative local WinLink endpoint (§4.7 C13), rather than relaying
// to a remote CMS the way internal/winlink/relay does.
package b2f

import (
	"fmt"
	"strconv"
	"strings"
)

// ProtocolVersion names this endpoint in the greeting banner (§4.7
// step 1 "[HTCmd-<ver>-B2FWIHJM$]").
const ProtocolVersion = "1.0"

// State is the B2F session's phase.
type State int

const (
	StateGreeting State = iota
	StateAwaitingLoginResponse
	StateAwaitingProposals
	StateAwaitingAnswer
	StateStreamingBlocks
	StateDone
)

// Mail is one message as exchanged over B2F; the byte codec lives in
// the mail codec this component delegates to (not modeled here — B2F
// only needs size/identity to drive the proposal protocol).
type Mail struct {
	MID          string
	To           []string
	Cc           []string
	CompressedBody []byte
	Mailbox      Mailbox
}

// Mailbox classifies a received mail (§4.7 step 5).
type Mailbox int

const (
	MailboxInbox Mailbox = iota
	MailboxOutbox
)

// ClassifyMailbox resolves a mail's mailbox by whether any of to/cc
// matches ourCallsign, base or "-SSID" (§4.7 step 5).
func ClassifyMailbox(ourCallsign string, to, cc []string) Mailbox {
	base := strings.ToUpper(baseCall(ourCallsign))
	for _, addr := range append(append([]string{}, to...), cc...) {
		if strings.ToUpper(baseCall(addr)) == base {
			return MailboxInbox
		}
	}
	return MailboxOutbox
}

func baseCall(call string) string {
	if idx := strings.IndexByte(call, '-'); idx >= 0 {
		return call[:idx]
	}
	return call
}

// Line is the transport: send one line (without trailing \r\n, added
// internally) to the peer.
type Line interface {
	SendLine(line string)
}

// Config parameterizes a Server.
type Config struct {
	LocalCallsign string
	Password      string // empty disables secure login
	ChallengeGen  func() string
	// KnownMID reports whether mid is already present in the mailbox, so
	// answerProposals can reply AnswerReject instead of re-accepting a
	// duplicate (§4.7 steps 4-5, the MID-uniqueness dedup-on-receive
	// invariant, §8 "replies FS N when already present").
	KnownMID func(mid string) bool
}

// Server drives one B2F session's state machine (§4.7).
type Server struct {
	cfg   Config
	out   Line
	state State

	challenge       string
	pendingProposals []Proposal
	proposalLines   []string
	streamIdx       int
	seen            map[string]bool

	OnMailReceived func(Mail)
	OnComplete     func()
}

// New creates a Server and sends the greeting immediately.
func New(cfg Config, out Line) *Server {
	s := &Server{cfg: cfg, out: out, state: StateGreeting}
	s.sendGreeting()
	return s
}

func (s *Server) sendGreeting() {
	banner := fmt.Sprintf("[HTCmd-%s-B2FWIHJM$]", ProtocolVersion)
	if s.cfg.Password != "" {
		gen := s.cfg.ChallengeGen
		if gen == nil {
			gen = func() string { return "12345678" }
		}
		s.challenge = gen()
		s.out.SendLine(banner)
		s.out.SendLine(";PQ: " + s.challenge)
		s.out.SendLine(">")
		s.state = StateAwaitingLoginResponse
		return
	}
	s.out.SendLine(banner)
	s.out.SendLine(">")
	s.state = StateAwaitingProposals
}

// HandleLine processes one inbound protocol line (without trailing
// CR/LF).
func (s *Server) HandleLine(line string) error {
	switch s.state {
	case StateAwaitingLoginResponse:
		return s.handleLoginResponse(line)
	case StateAwaitingProposals:
		return s.handleProposalPhase(line)
	case StateAwaitingAnswer:
		return s.handleAnswerPhase(line)
	default:
		return fmt.Errorf("b2f: unexpected line %q in state %d", line, s.state)
	}
}

func (s *Server) handleLoginResponse(line string) error {
	if !strings.HasPrefix(line, ";PR:") {
		return fmt.Errorf("b2f: expected ;PR: response, got %q", line)
	}
	response := strings.TrimSpace(strings.TrimPrefix(line, ";PR:"))
	if response != SecureLoginResponse(s.challenge, s.cfg.Password) {
		s.out.SendLine("FQ")
		return fmt.Errorf("b2f: secure login failed")
	}
	s.state = StateAwaitingProposals
	return nil
}

func (s *Server) handleProposalPhase(line string) error {
	switch {
	case strings.HasPrefix(line, "FC "):
		prop, err := ParseProposalLine(line)
		if err != nil {
			return err
		}
		s.pendingProposals = append(s.pendingProposals, prop)
		s.proposalLines = append(s.proposalLines, line)
		return nil

	case strings.HasPrefix(line, "F>"):
		hexSum := strings.TrimSpace(strings.TrimPrefix(line, "F>"))
		want, err := strconv.ParseUint(hexSum, 16, 8)
		if err != nil {
			return fmt.Errorf("b2f: malformed checksum %q", hexSum)
		}
		if byte(want) != Checksum(s.proposalLines) {
			s.out.SendLine("FQ")
			return fmt.Errorf("b2f: proposal block checksum mismatch")
		}
		s.answerProposals()
		return nil

	case line == "FF":
		// Peer has no more mail for us; move on to our own outgoing
		// proposals, which the caller drives via SendProposals.
		s.state = StateDone
		if s.OnComplete != nil {
			s.OnComplete()
		}
		return nil

	case line == "FQ":
		s.state = StateDone
		if s.OnComplete != nil {
			s.OnComplete()
		}
		return nil

	default:
		return fmt.Errorf("b2f: unexpected line %q awaiting proposals", line)
	}
}

// answerProposals accepts every pending proposal whose MID is not
// already known, and rejects the rest (§4.7 steps 4-5), then sends the
// FS line at once.
func (s *Server) answerProposals() {
	for i := range s.pendingProposals {
		if s.alreadyHave(s.pendingProposals[i].MID) {
			s.pendingProposals[i].Answer = AnswerReject
			continue
		}
		s.pendingProposals[i].Answer = AnswerAccept
	}
	s.sendAnswer()
}

// alreadyHave reports whether mid has already been delivered, either
// earlier in this session or per the caller's mailbox via KnownMID.
func (s *Server) alreadyHave(mid string) bool {
	if s.seen[mid] {
		return true
	}
	if s.cfg.KnownMID != nil {
		return s.cfg.KnownMID(mid)
	}
	return false
}

// Pending returns the proposals awaiting an answer.
func (s *Server) Pending() []Proposal { return s.pendingProposals }

// SetAnswer overrides the stored answer for proposal index i. The FS
// line has already gone out by the time proposals are pending a block;
// the stored answer decides whether FeedCompressedBlock delivers that
// proposal's block to OnMailReceived.
func (s *Server) SetAnswer(i int, a Answer) {
	if i >= 0 && i < len(s.pendingProposals) {
		s.pendingProposals[i].Answer = a
	}
}

func (s *Server) sendAnswer() {
	answers := make([]byte, len(s.pendingProposals))
	for i, p := range s.pendingProposals {
		answers[i] = p.Answer.Byte()
	}
	s.out.SendLine("FS " + string(answers))
	s.streamIdx = 0
	s.state = StateStreamingBlocks
}

func (s *Server) handleAnswerPhase(line string) error {
	return fmt.Errorf("b2f: unexpected line %q answering proposals", line)
}

// FeedCompressedBlock delivers one accepted proposal's full compressed
// body (block reassembly is the transport's job; B2F only needs the
// completed bytes to classify and hand off the mail).
func (s *Server) FeedCompressedBlock(data []byte) error {
	if s.state != StateStreamingBlocks {
		return fmt.Errorf("b2f: not expecting a compressed block in state %d", s.state)
	}
	if s.streamIdx >= len(s.pendingProposals) {
		return fmt.Errorf("b2f: no accepted proposal left to stream")
	}
	prop := s.pendingProposals[s.streamIdx]
	s.streamIdx++
	if prop.Answer != AnswerAccept {
		return nil
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	s.seen[prop.MID] = true
	if s.OnMailReceived != nil {
		s.OnMailReceived(Mail{MID: prop.MID, CompressedBody: data})
	}
	if s.streamIdx >= len(s.pendingProposals) {
		s.pendingProposals = nil
		s.proposalLines = nil
		s.state = StateAwaitingProposals
	}
	return nil
}

// SendProposals offers our own outgoing mail to the peer (§4.7 step 6).
func (s *Server) SendProposals(proposals []Proposal) {
	lines := make([]string, len(proposals))
	for i, p := range proposals {
		lines[i] = p.Line()
	}
	for _, l := range lines {
		s.out.SendLine(l)
	}
	s.out.SendLine(fmt.Sprintf("F> %02X", Checksum(lines)))
}

// Quit ends the session from our side.
func (s *Server) Quit() {
	s.out.SendLine("FQ")
	s.state = StateDone
}
