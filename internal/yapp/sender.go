package yapp

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// SenderState is one state of the C9 sender machine (§4.3).
type SenderState int

const (
	SenderIdle SenderState = iota
	SenderS               // sent ENQ (SI), awaiting a ready reply
	SenderSH              // sent header (HD), awaiting RF/RT/RE
	SenderSD              // streaming DT blocks
	SenderSE              // sent EF, awaiting AF
	SenderST              // sent ET, awaiting AT
	SenderDone
	SenderCancelled
)

func (s SenderState) String() string {
	switch s {
	case SenderIdle:
		return "IDLE"
	case SenderS:
		return "S"
	case SenderSH:
		return "SH"
	case SenderSD:
		return "SD"
	case SenderSE:
		return "SE"
	case SenderST:
		return "ST"
	case SenderDone:
		return "DONE"
	case SenderCancelled:
		return "CANCELLED"
	default:
		return "?"
	}
}

// File is the data a Sender transmits. Size must be accurate; Reader is
// read block by block from offset 0, or from the offset in the
// receiver's resume (NAK) response.
type File struct {
	Name     string
	Size     int64
	Modified time.Time
	Reader   io.ReaderAt
	UseYappC bool
}

// SenderCallbacks reports transfer progress and completion.
type SenderCallbacks struct {
	OnProgress func(sent, total int64)
	OnComplete func()
	OnCancel   func(reason string)
}

// Sender drives one file through the C9 sender state machine over a
// Link. Start, Feed, Cancel, State and the retry timer serialize on an
// internal mutex.
type Sender struct {
	mu         sync.Mutex
	link       Link
	log        *log.Logger
	cb         SenderCallbacks
	file       File
	state      SenderState
	offset     int64
	retries    int
	maxRetries int
	timer      *time.Timer
	lastBlock  []byte
}

// NewSender prepares a Sender for file; call Start to begin.
func NewSender(link Link, logger *log.Logger, file File, cb SenderCallbacks) *Sender {
	if logger == nil {
		logger = log.Default()
	}
	return &Sender{
		link:       link,
		log:        logger,
		cb:         cb,
		file:       file,
		state:      SenderIdle,
		maxRetries: DefaultMaxRetries,
	}
}

func (s *Sender) State() SenderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start sends the initial ENQ (SI) and transitions to SenderS.
func (s *Sender) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SenderS
	s.link.Send([]byte{ENQ}, true)
	s.armTimeoutLocked()
}

func (s *Sender) armTimeoutLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	state := s.state
	s.timer = time.AfterFunc(StateTimeout, func() { s.onTimeout(state) })
}

func (s *Sender) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

func (s *Sender) onTimeout(expected SenderState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != expected {
		return
	}
	s.retries++
	if s.retries > s.maxRetries {
		s.cancelLocked("timed out awaiting peer response in state " + expected.String())
		return
	}
	s.log.Warn("yapp sender retry", "state", expected, "attempt", s.retries)
	s.resendLocked()
}

func (s *Sender) resendLocked() {
	switch s.state {
	case SenderS:
		s.link.Send([]byte{ENQ}, true)
	case SenderSH:
		s.link.Send(append([]byte{SOH}, encodeHeader(s.header())...), true)
	case SenderSD:
		if s.lastBlock != nil {
			s.link.Send(s.lastBlock, true)
		}
	case SenderSE:
		s.link.Send([]byte{ETX}, true)
	case SenderST:
		s.link.Send([]byte{EOT}, true)
	}
	s.armTimeoutLocked()
}

func (s *Sender) header() Header {
	h := Header{Filename: s.file.Name, Size: s.file.Size}
	if !s.file.Modified.IsZero() {
		h.DOSDate, h.DOSTime = DOSDateTime(s.file.Modified)
		h.HasDOS = true
	}
	return h
}

func (s *Sender) cancelLocked(reason string) {
	s.stopTimerLocked()
	s.state = SenderCancelled
	s.link.Send(append([]byte{CAN}, []byte(reason)...), true)
	if s.cb.OnCancel != nil {
		s.cb.OnCancel(reason)
	}
}

// Cancel aborts the transfer, sending CN with reason.
func (s *Sender) Cancel(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(reason)
}

// Feed processes one inbound YAPP packet from the receiver.
func (s *Sender) Feed(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(data) == 0 {
		return fmt.Errorf("yapp: empty packet")
	}
	ctrl := data[0]

	if ctrl == CAN {
		s.stopTimerLocked()
		s.state = SenderCancelled
		reason := string(data[1:])
		if s.cb.OnCancel != nil {
			s.cb.OnCancel(reason)
		}
		return nil
	}

	switch s.state {
	case SenderS:
		if ctrl != ACK {
			return fmt.Errorf("yapp: unexpected packet 0x%02x in state S", ctrl)
		}
		s.retries = 0
		s.state = SenderSH
		s.link.Send(append([]byte{SOH}, encodeHeader(s.header())...), true)
		s.armTimeoutLocked()
		return nil

	case SenderSH:
		switch ctrl {
		case ACK:
			s.retries = 0
			s.offset = 0
			if len(data) > 1 && data[1] == 'C' {
				s.file.UseYappC = true
			}
			s.state = SenderSD
			s.sendNextBlockLocked()
			return nil
		case NAK:
			// resume: ASCII decimal offset follows, optionally 'C'.
			s.retries = 0
			var off int64
			text := data[1:]
			if len(text) > 0 && text[len(text)-1] == 'C' {
				s.file.UseYappC = true
				text = text[:len(text)-1]
			}
			if _, err := fmt.Sscanf(string(text), "%d", &off); err != nil {
				return fmt.Errorf("yapp: malformed resume offset: %w", err)
			}
			s.offset = off
			s.state = SenderSD
			s.sendNextBlockLocked()
			return nil
		default:
			return fmt.Errorf("yapp: unexpected packet 0x%02x in state SH", ctrl)
		}

	case SenderSD:
		if ctrl != ACK {
			return fmt.Errorf("yapp: unexpected packet 0x%02x in state SD", ctrl)
		}
		s.retries = 0
		s.sendNextBlockLocked()
		return nil

	case SenderSE:
		if ctrl != ACK {
			return fmt.Errorf("yapp: unexpected packet 0x%02x in state SE", ctrl)
		}
		s.retries = 0
		s.state = SenderST
		s.link.Send([]byte{EOT}, true)
		s.armTimeoutLocked()
		return nil

	case SenderST:
		if ctrl != ACK {
			return fmt.Errorf("yapp: unexpected packet 0x%02x in state ST", ctrl)
		}
		s.stopTimerLocked()
		s.state = SenderDone
		if s.cb.OnComplete != nil {
			s.cb.OnComplete()
		}
		return nil

	default:
		return fmt.Errorf("yapp: packet received in terminal state %v", s.state)
	}
}

func (s *Sender) sendNextBlockLocked() {
	remaining := s.file.Size - s.offset
	if remaining <= 0 {
		s.state = SenderSE
		s.link.Send([]byte{ETX}, true)
		s.armTimeoutLocked()
		return
	}

	n := remaining
	if n > MaxBlockSize {
		n = MaxBlockSize
	}
	buf := make([]byte, n)
	if _, err := s.file.Reader.ReadAt(buf, s.offset); err != nil && err != io.EOF {
		s.cancelLocked("read error: " + err.Error())
		return
	}

	pkt := []byte{STX, lengthByte(int(n))}
	pkt = append(pkt, buf...)
	if s.file.UseYappC {
		pkt = append(pkt, checksum8(buf))
	}
	s.lastBlock = pkt
	s.link.Send(pkt, true)
	s.offset += n
	if s.cb.OnProgress != nil {
		s.cb.OnProgress(s.offset, s.file.Size)
	}
	s.armTimeoutLocked()
}
