package aprs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyLeadingByte(t *testing.T) {
	assert.Equal(t, TypeMessage, Classify(":N0CALL   :hi"))
	assert.Equal(t, TypePosition, Classify("!4903.50N/07201.75W-"))
	assert.Equal(t, TypeWeather, Classify("_12090556c220s004g005t077"))
	assert.Equal(t, TypeOther, Classify("garbage"))
	assert.Equal(t, TypeOther, Classify(""))
}

func TestParseMessageRoundTrip(t *testing.T) {
	line := EncodeMessage("N0CALL", "hello there", "42", "ABCDEF")
	msg, ok := ParseMessage(":" + line[1:])
	require.True(t, ok)
	assert.Equal(t, "N0CALL", msg.Addressee)
	assert.Equal(t, "hello there", msg.Text)
	assert.Equal(t, "42", msg.SeqID)
	assert.Equal(t, "ABCDEF", msg.Token)
}

func TestParseAck(t *testing.T) {
	line := EncodeAck("N0CALL", "7", "XYZ123")
	msg, ok := ParseMessage(line)
	require.True(t, ok)
	assert.True(t, msg.IsAck)
	assert.Equal(t, "7", msg.AckSeqID)
	assert.Equal(t, "XYZ123", msg.Token)
}

func TestParseAckWithoutToken(t *testing.T) {
	line := EncodeAck("N0CALL", "7", "")
	msg, ok := ParseMessage(line)
	require.True(t, ok)
	assert.True(t, msg.IsAck)
	assert.Equal(t, "7", msg.AckSeqID)
	assert.Equal(t, "", msg.Token)
}

type fakeOut struct {
	lines []string
}

func (f *fakeOut) SendUI(info string) { f.lines = append(f.lines, info) }

func TestHandlerAuthFailDropsSilently(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := &fakeOut{}
	h := New(Config{
		LocalCallsign: "KK7VZT",
		Secrets:       map[string]string{"N0CALL": "sharedsecret"},
		Now:           func() time.Time { return now },
	}, out, nil, nil)

	h.HandleInfo("N0CALL", "KK7VZT", EncodeMessage("KK7VZT", "ECHO:hi", "1", "BADTOK"))
	assert.Empty(t, out.lines)
}

func TestHandlerAuthSuccessAcksAndEchoes(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := &fakeOut{}
	h := New(Config{
		LocalCallsign: "KK7VZT",
		Secrets:       map[string]string{"N0CALL": "sharedsecret"},
		Now:           func() time.Time { return now },
	}, out, nil, nil)

	key := SecretKey("sharedsecret")
	token := Token(key, now.Unix()/60, "N0CALL", "KK7VZT", "ECHO:hi", "1")
	h.HandleInfo("N0CALL", "KK7VZT", EncodeMessage("KK7VZT", "ECHO:hi", "1", token))

	require.Len(t, out.lines, 2)
	assert.Contains(t, out.lines[0], "ack1")
	assert.Contains(t, out.lines[1], "hi")
}

func TestHandlerUnaddressedPacketIsStored(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var flushed []Record
	h := New(Config{LocalCallsign: "KK7VZT", Now: func() time.Time { return now }},
		&fakeOut{}, nil, func(r []Record) { flushed = r })

	h.HandleInfo("N0CALL", "APRS", "!4903.50N/07201.75W-test")
	h.Flush()
	require.Len(t, flushed, 1)
	assert.Equal(t, TypePosition, flushed[0].DataType)
}

func TestHandlerSkipsStoringPacketsAddressedToUs(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var flushed []Record
	h := New(Config{LocalCallsign: "KK7VZT", Now: func() time.Time { return now }},
		&fakeOut{}, nil, func(r []Record) { flushed = r })

	h.HandleInfo("N0CALL", "KK7VZT", EncodeMessage("KK7VZT", "hello", "1", ""))
	h.Flush()
	assert.Empty(t, flushed)
}

func TestSeqCacheSuppressesDuplicateSeqID(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := &fakeOut{}
	h := New(Config{LocalCallsign: "KK7VZT", Now: func() time.Time { return now }}, out, nil, nil)

	h.HandleInfo("N0CALL", "KK7VZT", EncodeMessage("KK7VZT", "hi", "9", ""))
	first := len(out.lines)
	h.HandleInfo("N0CALL", "KK7VZT", EncodeMessage("KK7VZT", "hi", "9", ""))
	assert.Equal(t, first, len(out.lines))
}

func TestHandlerAckWithValidTokenClearsRetryQueue(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := New(Config{
		LocalCallsign: "KK7VZT",
		Secrets:       map[string]string{"N0CALL": "sharedsecret"},
		Now:           func() time.Time { return now },
	}, &fakeOut{}, nil, nil)

	h.sendMessage("N0CALL", "hello")
	require.Equal(t, 1, h.retry.Pending())

	key := SecretKey("sharedsecret")
	token := Token(key, now.Unix()/60, "N0CALL", "KK7VZT", "ack1", "")
	h.HandleInfo("N0CALL", "KK7VZT", EncodeAck("KK7VZT", "1", token))
	assert.Equal(t, 0, h.retry.Pending())
}

func TestHandlerAckWithInvalidTokenDoesNotClearRetryQueue(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := New(Config{
		LocalCallsign: "KK7VZT",
		Secrets:       map[string]string{"N0CALL": "sharedsecret"},
		Now:           func() time.Time { return now },
	}, &fakeOut{}, nil, nil)

	h.sendMessage("N0CALL", "hello")
	require.Equal(t, 1, h.retry.Pending())

	h.HandleInfo("N0CALL", "KK7VZT", EncodeAck("KK7VZT", "1", "BADTOKEN"))
	assert.Equal(t, 1, h.retry.Pending())
}

func TestRetryQueueAckClearsEntry(t *testing.T) {
	out := &fakeOut{}
	q := NewRetryQueue(sendLineAdapterForTest{out})
	q.Enqueue("N0CALL", "1", "line")
	assert.Equal(t, 1, q.Pending())
	assert.True(t, q.Ack("N0CALL", "1"))
	assert.Equal(t, 0, q.Pending())
}

type sendLineAdapterForTest struct{ out *fakeOut }

func (a sendLineAdapterForTest) SendLine(line string) { a.out.SendUI(line) }
