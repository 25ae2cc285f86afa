package ax25

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAddressRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		addr := Address{
			Callsign: rapid.StringMatching(`[A-Z0-9]{1,6}`).Draw(rt, "callsign"),
			SSID:     uint8(rapid.IntRange(0, 15).Draw(rt, "ssid")),
			CRBit1:   rapid.Bool().Draw(rt, "cr1"),
			CRBit2:   rapid.Bool().Draw(rt, "cr2"),
			CRBit3:   rapid.Bool().Draw(rt, "cr3"),
		}
		last := rapid.Bool().Draw(rt, "last")
		enc, err := EncodeAddress(addr, last)
		require.NoError(rt, err)
		got, gotLast, err := DecodeAddress(enc[:], 0)
		require.NoError(rt, err)
		assert.Equal(rt, addr.Normalize().Callsign, got.Callsign+paddingFor(got.Callsign))
		assert.Equal(rt, addr.SSID, got.SSID)
		assert.Equal(rt, addr.CRBit1, got.CRBit1)
		assert.Equal(rt, addr.CRBit2, got.CRBit2)
		assert.Equal(rt, addr.CRBit3, got.CRBit3)
		assert.Equal(rt, last, gotLast)
	})
}

func paddingFor(cs string) string {
	out := ""
	for len(cs)+len(out) < 6 {
		out += " "
	}
	return out
}

func frameFixture(modulo128 bool) *Frame {
	pid := byte(0xf0)
	return &Frame{
		Addresses: []Address{
			{Callsign: "APRS", SSID: 0, CRBit1: true, CRBit2: true, CRBit3: true},
			{Callsign: "KK7VZT", SSID: 1, CRBit1: false, CRBit2: modulo128, CRBit3: true},
		},
		Command:   true,
		Modulo128: modulo128,
		Kind:      KindI,
		NS:        3,
		NR:        5,
		PF:        true,
		PID:       &pid,
		Payload:   []byte("hello world"),
	}
}

func TestIFrameRoundTripModulo8(t *testing.T) {
	f := frameFixture(false)
	enc, err := EncodeFrame(f)
	require.NoError(t, err)
	got, err := DecodeFrame(enc)
	require.NoError(t, err)
	assert.Equal(t, KindI, got.Kind)
	assert.Equal(t, 3, got.NS)
	assert.Equal(t, 5, got.NR)
	assert.True(t, got.PF)
	assert.Equal(t, []byte("hello world"), got.Payload)
	assert.Equal(t, byte(0xf0), *got.PID)
}

func TestIFrameRoundTripModulo128(t *testing.T) {
	f := frameFixture(true)
	f.NS = 127
	f.NR = 126
	enc, err := EncodeFrame(f)
	require.NoError(t, err)
	got, err := DecodeFrame(enc)
	require.NoError(t, err)
	assert.True(t, got.Modulo128)
	assert.Equal(t, 127, got.NS)
	assert.Equal(t, 126, got.NR)
}

func TestUIFrameRoundTrip(t *testing.T) {
	pid := byte(0xf0)
	f := &Frame{
		Addresses: []Address{
			{Callsign: "APRS", CRBit1: true, CRBit2: true, CRBit3: true},
			{Callsign: "KK7VZT", SSID: 1, CRBit2: true, CRBit3: true},
		},
		Kind:    KindU,
		UType:   UUI,
		PID:     &pid,
		Payload: []byte("!4903.50N/07201.75W-test"),
	}
	enc, err := EncodeFrame(f)
	require.NoError(t, err)
	got, err := DecodeFrame(enc)
	require.NoError(t, err)
	assert.Equal(t, KindU, got.Kind)
	assert.Equal(t, UUI, got.UType)
	assert.Equal(t, f.Payload, got.Payload)
}

func TestSFrameRoundTripModulo128(t *testing.T) {
	f := &Frame{
		Addresses: []Address{
			{Callsign: "KK7VZT", SSID: 1},
			{Callsign: "KK7VZT", SSID: 2, CRBit2: true},
		},
		Modulo128: true,
		Kind:      KindS,
		SType:     SSREJ,
		NR:        99,
		PF:        true,
	}
	enc, err := EncodeFrame(f)
	require.NoError(t, err)
	got, err := DecodeFrame(enc)
	require.NoError(t, err)
	assert.Equal(t, KindS, got.Kind)
	assert.Equal(t, SSREJ, got.SType)
	assert.Equal(t, 99, got.NR)
	assert.True(t, got.PF)
}

func TestDecodeFrameRejectsTruncatedControl(t *testing.T) {
	addrOnly := make([]byte, 14)
	for i := range addrOnly {
		addrOnly[i] = 'A' << 1 // printable callsign bytes
	}
	addrOnly[6] = 0x60  // not last
	addrOnly[13] = 0x61 // last address, no control byte follows
	_, err := DecodeFrame(addrOnly)
	require.Error(t, err)
}

func TestDecodeFrameRejectsUnprintableCallsign(t *testing.T) {
	data := make([]byte, 15)
	data[0] = 0x00 // shifted NUL -> unprintable
	data[6] = 0x01
	_, err := DecodeFrame(data)
	require.Error(t, err)
}

func TestDecodeOddPacketLegacyShape(t *testing.T) {
	data := []byte{0x01, 3, 'K', 'K', '1', 4, 'W', '1', 'A', 'W', 3, 'h', 'i', 0x00}
	f, err := DecodeFrame(data)
	require.NoError(t, err)
	assert.True(t, f.LegacyOddPacket)
	assert.Equal(t, "KK1", f.Addresses[0].Callsign)
	assert.Equal(t, []byte("hi"), f.Payload)
}

func TestEncodeNeverProducesOddPacket(t *testing.T) {
	f := frameFixture(false)
	enc, err := EncodeFrame(f)
	require.NoError(t, err)
	assert.NotEqual(t, byte(0x01), enc[0]&0xff, "first address byte should be a shifted printable character, never the odd-packet marker")
}
