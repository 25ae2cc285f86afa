// Package ax25 implements the bit-exact AX.25 address and frame codec
// (spec §3, §4.1, §8 "Codec round-trip (AX.25)"): modulo-8 and
// modulo-128 I/S/U frames, encoded and decoded without throwing or
// logging on malformed input.
package ax25

import (
	"fmt"
	"strings"
)

// Address is one AX.25 station address: a callsign, SSID, and the
// three control bits carried in the low/high bits of the address's
// seventh octet (CRBit1 = command/response, CRBit2/3 = reserved,
// conventionally both 1 outside connected-mode signalling).
type Address struct {
	Callsign string
	SSID     uint8
	CRBit1   bool
	CRBit2   bool
	CRBit3   bool
}

const (
	ssidLastMask = 0x01
	ssidHBit     = 0x80 // has-been-repeated, for digipeater addresses; carried through untouched
)

// ErrInvalidAddress is returned by decode helpers on malformed input;
// per §4.1 the codec itself never logs or panics.
var ErrInvalidAddress = fmt.Errorf("ax25: invalid address")

// Normalize upper-cases and space-pads the callsign to 6 characters,
// as required before encoding (§8's "modulo canonicalization").
func (a Address) Normalize() Address {
	cs := strings.ToUpper(strings.TrimSpace(a.Callsign))
	for len(cs) < 6 {
		cs += " "
	}
	a.Callsign = cs
	return a
}

// String renders "CALL-SSID" (SSID 0 renders without suffix), the
// conventional monitor-format representation.
func (a Address) String() string {
	cs := strings.TrimRight(a.Callsign, " ")
	if a.SSID == 0 {
		return cs
	}
	return fmt.Sprintf("%s-%d", cs, a.SSID)
}

// Equal compares callsign (trimmed, case-insensitive) and SSID only;
// control bits are link-direction metadata, not part of station identity.
func (a Address) Equal(b Address) bool {
	return strings.EqualFold(strings.TrimRight(a.Callsign, " "), strings.TrimRight(b.Callsign, " ")) && a.SSID == b.SSID
}

// DecodeAddress decodes the 7-byte address field at offset within data,
// returning the address, whether this was the last address in the
// chain (low bit of the final octet set), and the number of bytes
// consumed (always 7). It rejects unprintable callsign bytes and any
// non-terminal address whose low bit is incorrectly set by the caller's
// framing (that check is the caller's responsibility via lastFlag
// context; this function only validates character class).
func DecodeAddress(data []byte, offset int) (addr Address, lastFlag bool, err error) {
	if offset < 0 || offset+7 > len(data) {
		return Address{}, false, fmt.Errorf("%w: short address field", ErrInvalidAddress)
	}
	var cs strings.Builder
	for i := 0; i < 6; i++ {
		b := data[offset+i]
		ch := byte(b >> 1)
		if ch < 0x20 || ch > 0x7e {
			return Address{}, false, fmt.Errorf("%w: unprintable callsign byte 0x%02x", ErrInvalidAddress, ch)
		}
		cs.WriteByte(ch)
	}
	ssidByte := data[offset+6]
	addr = Address{
		Callsign: strings.TrimRight(cs.String(), " "),
		SSID:     (ssidByte >> 1) & 0x0f,
		CRBit1:   ssidByte&0x80 != 0,
		CRBit2:   ssidByte&0x40 != 0,
		CRBit3:   ssidByte&0x20 != 0,
	}
	lastFlag = ssidByte&ssidLastMask != 0
	return addr, lastFlag, nil
}

// EncodeAddress renders a 7-byte address field: callsign bytes shifted
// left one bit, then the SSID byte carrying CRBit1/2/3, SSID<<1, and
// the end-of-chain bit in the low position.
func EncodeAddress(addr Address, lastFlag bool) ([7]byte, error) {
	addr = addr.Normalize()
	if len(addr.Callsign) != 6 {
		return [7]byte{}, fmt.Errorf("%w: callsign %q does not fit 6 characters", ErrInvalidAddress, addr.Callsign)
	}
	if addr.SSID > 15 {
		return [7]byte{}, fmt.Errorf("%w: ssid %d out of range", ErrInvalidAddress, addr.SSID)
	}
	var out [7]byte
	for i := 0; i < 6; i++ {
		c := addr.Callsign[i]
		if c < 0x20 || c > 0x7e {
			return [7]byte{}, fmt.Errorf("%w: unprintable callsign byte 0x%02x", ErrInvalidAddress, c)
		}
		out[i] = c << 1
	}
	var ssidByte byte = 0x60 // reserved bits default to 11 per §4.1
	if addr.CRBit1 {
		ssidByte |= 0x80
	}
	if addr.CRBit2 {
		ssidByte |= 0x40
	} else {
		ssidByte &^= 0x40
	}
	if addr.CRBit3 {
		ssidByte |= 0x20
	} else {
		ssidByte &^= 0x20
	}
	ssidByte |= (addr.SSID & 0x0f) << 1
	if lastFlag {
		ssidByte |= ssidLastMask
	}
	out[6] = ssidByte
	return out, nil
}
