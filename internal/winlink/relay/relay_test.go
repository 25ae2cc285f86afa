package relay

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRadio struct {
	sent [][]byte
}

func (f *fakeRadio) Send(data []byte, immediate bool) {
	f.sent = append(f.sent, append([]byte(nil), data...))
}

func newTestRelay(t *testing.T, server net.Conn) (*Relay, *fakeRadio) {
	t.Helper()
	radio := &fakeRadio{}
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r, err := New(Config{
		Host: "ignored", Callsign: "N0CALL", Now: func() time.Time { return fixed },
		Dial: func(network, addr string) (net.Conn, error) { return server, nil },
	}, radio, nil, nil)
	require.NoError(t, err)
	return r, radio
}

func TestModeSwitchToBinaryAndBackToText(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	r, _ := newTestRelay(t, client)

	r.maybeSwitchMode("FS Y")
	assert.Equal(t, ModeBinary, r.mode)

	r.maybeSwitchMode("FF")
	assert.Equal(t, ModeText, r.mode)
}

func TestFromRadioForwardsBytesAndCountsThem(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	r, _ := newTestRelay(t, client)

	done := make(chan struct{})
	var received []byte
	go func() {
		buf := make([]byte, 16)
		n, _ := server.Read(buf)
		received = buf[:n]
		close(done)
	}()

	r.FromRadio([]byte("hello"))
	<-done
	assert.Equal(t, "hello", string(received))
	assert.EqualValues(t, 5, r.bytesReceived)
}

func TestNewSendsGatewayFailedNoticeOnDialError(t *testing.T) {
	radio := &fakeRadio{}
	_, err := New(Config{
		Host: "ignored", Callsign: "N0CALL",
		Dial: func(network, addr string) (net.Conn, error) { return nil, assert.AnError },
	}, radio, nil, nil)
	require.Error(t, err)
	require.Len(t, radio.sent, 1)
	assert.Contains(t, string(radio.sent[0]), "CMS Gateway connection failed.")
}

func TestRelayLogCapsAndThrottles(t *testing.T) {
	var flushed []LogEntry
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLog(func() time.Time { return now }, func(e []LogEntry) { flushed = e })

	for i := 0; i < LogCap+10; i++ {
		l.Append(LogEntry{Callsign: "N0CALL"})
	}
	assert.LessOrEqual(t, len(l.entries), LogCap)
	assert.Nil(t, flushed) // throttle window hasn't elapsed

	now = now.Add(2 * time.Minute)
	l.Flush()
	assert.Len(t, flushed, LogCap)
}
