package yapp

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
)

// ReceiverState is one state of the C9 receiver machine (§4.3).
type ReceiverState int

const (
	ReceiverIdle ReceiverState = iota
	ReceiverR                 // ENQ acknowledged, awaiting header
	ReceiverRD                // streaming DT blocks in
	ReceiverDone
	ReceiverCancelled
)

func (s ReceiverState) String() string {
	switch s {
	case ReceiverIdle:
		return "IDLE"
	case ReceiverR:
		return "R"
	case ReceiverRD:
		return "RD"
	case ReceiverDone:
		return "DONE"
	case ReceiverCancelled:
		return "CANCELLED"
	default:
		return "?"
	}
}

// Sink receives the bytes of the incoming file. When resume is honored,
// WriteAt is first called at the existing partial size reported by Stat.
type Sink interface {
	io.WriterAt
	// Stat returns the existing size of a partial file of this name, if
	// any, for resume (§4.3 "resume support"). ok is false if no
	// partial file exists.
	Stat(name string) (size int64, ok bool)
}

// ReceiverCallbacks reports transfer progress and completion.
type ReceiverCallbacks struct {
	// AcceptHeader decides whether to accept an incoming file and
	// whether to request YappC checksums. Returning accept=false
	// cancels the transfer.
	AcceptHeader func(h Header) (accept bool, useYappC bool)
	OnProgress   func(received, total int64)
	OnComplete   func(h Header)
	OnCancel     func(reason string)
}

// Receiver drives one inbound file through the C9 receiver state
// machine. Not safe for concurrent Feed calls.
type Receiver struct {
	link     Link
	log      *log.Logger
	sink     Sink
	cb       ReceiverCallbacks
	state    ReceiverState
	header   Header
	offset   int64
	useYappC bool
}

// NewReceiver prepares a Receiver. Start it by feeding the sender's
// initial ENQ into Feed.
func NewReceiver(link Link, logger *log.Logger, sink Sink, cb ReceiverCallbacks) *Receiver {
	if logger == nil {
		logger = log.Default()
	}
	return &Receiver{link: link, log: logger, sink: sink, cb: cb, state: ReceiverIdle}
}

func (r *Receiver) State() ReceiverState { return r.state }

// Feed processes one inbound YAPP packet from the sender.
func (r *Receiver) Feed(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("yapp: empty packet")
	}
	ctrl := data[0]

	if ctrl == CAN {
		r.state = ReceiverCancelled
		if r.cb.OnCancel != nil {
			r.cb.OnCancel(string(data[1:]))
		}
		return nil
	}

	switch r.state {
	case ReceiverIdle:
		if ctrl != ENQ {
			return fmt.Errorf("yapp: unexpected packet 0x%02x in state IDLE", ctrl)
		}
		r.state = ReceiverR
		r.link.Send([]byte{ACK}, true)
		return nil

	case ReceiverR:
		if ctrl != SOH {
			return fmt.Errorf("yapp: unexpected packet 0x%02x in state R", ctrl)
		}
		h, err := decodeHeader(data[1:])
		if err != nil {
			return err
		}
		r.header = h

		accept, useYappC := true, false
		if r.cb.AcceptHeader != nil {
			accept, useYappC = r.cb.AcceptHeader(h)
		}
		if !accept {
			r.state = ReceiverCancelled
			r.link.Send([]byte{CAN}, true)
			if r.cb.OnCancel != nil {
				r.cb.OnCancel("rejected by receiver")
			}
			return nil
		}
		r.useYappC = useYappC

		r.offset = 0
		if existing, ok := r.sink.Stat(h.Filename); ok && existing > 0 && existing < h.Size {
			r.offset = existing
			resp := fmt.Appendf([]byte{NAK}, "%d", r.offset)
			if useYappC {
				resp = append(resp, 'C')
			}
			r.link.Send(resp, true)
		} else {
			resp := []byte{ACK}
			if useYappC {
				resp = append(resp, 'C')
			}
			r.link.Send(resp, true)
		}
		r.state = ReceiverRD
		return nil

	case ReceiverRD:
		switch ctrl {
		case STX:
			if len(data) < 2 {
				return fmt.Errorf("yapp: truncated DT packet")
			}
			n := lengthFromByte(data[1])
			payloadEnd := 2 + n
			if r.useYappC {
				if len(data) < payloadEnd+1 {
					return fmt.Errorf("yapp: truncated DT checksum")
				}
			} else if len(data) < payloadEnd {
				return fmt.Errorf("yapp: truncated DT payload")
			}
			payload := data[2:payloadEnd]
			if r.useYappC {
				want := data[payloadEnd]
				if checksum8(payload) != want {
					r.state = ReceiverCancelled
					r.link.Send(append([]byte{CAN}, []byte("Checksum error")...), true)
					if r.cb.OnCancel != nil {
						r.cb.OnCancel("Checksum error")
					}
					return nil
				}
			}
			if _, err := r.sink.WriteAt(payload, r.offset); err != nil {
				r.state = ReceiverCancelled
				r.link.Send(append([]byte{CAN}, []byte("write error")...), true)
				if r.cb.OnCancel != nil {
					r.cb.OnCancel("write error: " + err.Error())
				}
				return nil
			}
			r.offset += int64(n)
			if r.cb.OnProgress != nil {
				r.cb.OnProgress(r.offset, r.header.Size)
			}
			r.link.Send([]byte{ACK}, true)
			return nil

		case ETX:
			r.link.Send([]byte{ACK}, true)
			return nil

		case EOT:
			r.state = ReceiverDone
			r.link.Send([]byte{ACK}, true)
			if r.cb.OnComplete != nil {
				r.cb.OnComplete(r.header)
			}
			return nil

		default:
			return fmt.Errorf("yapp: unexpected packet 0x%02x in state RD", ctrl)
		}

	default:
		return fmt.Errorf("yapp: packet received in terminal state %v", r.state)
	}
}
