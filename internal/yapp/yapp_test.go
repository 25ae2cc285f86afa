package yapp

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipe wires a Sender and Receiver together for tests, delivering each
// packet on its own goroutine so one side's Feed never runs inside the
// other side's Feed while it holds its lock.
type pipe struct {
	mu   sync.Mutex
	from *Receiver
	to   *Sender
}

func (p *pipe) Send(data []byte, immediate bool) {
	cp := append([]byte(nil), data...)
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.from != nil {
			_ = p.from.Feed(cp)
		} else if p.to != nil {
			_ = p.to.Feed(cp)
		}
	}()
}

type memSink struct {
	mu  sync.Mutex
	buf []byte
}

func (m *memSink) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	need := int(off) + len(p)
	if need > len(m.buf) {
		grown := make([]byte, need)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:], p)
	return len(p), nil
}

func (m *memSink) Stat(name string) (int64, bool) { return 0, false }

func (m *memSink) bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.buf...)
}

func TestSenderReceiverFullTransfer(t *testing.T) {
	payload := bytes.Repeat([]byte("ABCDEFGHIJ"), 50) // 500 bytes, several blocks
	reader := bytes.NewReader(payload)

	toSender := &pipe{}
	toReceiver := &pipe{}

	sink := &memSink{}
	var completed Header
	var completeMu sync.Mutex
	recv := NewReceiver(toSender, nil, sink, ReceiverCallbacks{
		AcceptHeader: func(h Header) (bool, bool) { return true, true },
		OnComplete: func(h Header) {
			completeMu.Lock()
			completed = h
			completeMu.Unlock()
		},
	})
	toReceiver.from = recv

	var done bool
	var doneMu sync.Mutex
	send := NewSender(toReceiver, nil, File{
		Name:   "TEST.TXT",
		Size:   int64(len(payload)),
		Reader: &readerAtFromReader{r: reader, data: payload},
	}, SenderCallbacks{
		OnComplete: func() {
			doneMu.Lock()
			done = true
			doneMu.Unlock()
		},
	})
	toSender.to = send

	send.Start()

	require.Eventually(t, func() bool {
		doneMu.Lock()
		defer doneMu.Unlock()
		return done
	}, 2*time.Second, time.Millisecond)

	completeMu.Lock()
	assert.Equal(t, "TEST.TXT", completed.Filename)
	completeMu.Unlock()
	assert.Equal(t, payload, sink.bytes())
}

func TestSenderHeaderRoundTrip(t *testing.T) {
	h := Header{Filename: "A.TXT", Size: 1234, DOSDate: 0x1234, DOSTime: 0x5678, HasDOS: true}
	encoded := encodeHeader(h)
	decoded, err := decodeHeader(encoded)
	require.NoError(t, err)
	assert.Equal(t, h, decoded)
}

func TestChecksum8Wraps(t *testing.T) {
	data := []byte{0xFF, 0xFF, 0x02}
	assert.Equal(t, byte(0x00), checksum8(data))
}

func TestLengthByteZeroMeans256(t *testing.T) {
	assert.Equal(t, byte(0), lengthByte(256))
	assert.Equal(t, 256, lengthFromByte(0))
	assert.Equal(t, byte(10), lengthByte(10))
}

// readerAtFromReader adapts a plain byte slice to io.ReaderAt for tests.
type readerAtFromReader struct {
	r    *bytes.Reader
	data []byte
}

func (a *readerAtFromReader) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, a.data[off:])
	return n, nil
}
