// Package bss implements the compact BSS TLV packet format used for
// peer-to-peer callsign/destination/message/GPS exchanges (spec §3,
// §8 "Codec round-trip (BSS)").
package bss

import (
	"encoding/binary"
	"fmt"
)

const (
	leadingByte = 0x01

	tagCallsign        = 0x20
	tagDestination     = 0x21
	tagMessage         = 0x24
	tagLocation        = 0x25
	tagLocationRequest = 0x27
	tagCallRequest     = 0x28
	tagMessageID       = 0x85
)

// RawField preserves an unrecognized tag bit-exact through a decode/encode cycle.
type RawField struct {
	Tag   byte
	Value []byte
}

// Location is the optional GPS payload of tag 0x25: integer
// microdegrees little-endian, with an optional altitude in meters.
type Location struct {
	LatMicroDeg int32
	LonMicroDeg int32
	Altitude    *int16
}

// Packet is a decoded BSS message. Unknown tags are kept verbatim in
// Raw so re-encoding reproduces them bit-exact.
type Packet struct {
	Callsign        string
	Destination     string
	Message         string
	Location        *Location
	LocationRequest bool
	CallRequest     bool
	MessageID       *uint16
	Raw             []RawField
}

var ErrMalformed = fmt.Errorf("bss: malformed packet")

// Decode parses a BSS packet. Any length-prefix overrun yields
// ErrMalformed.
func Decode(data []byte) (*Packet, error) {
	if len(data) < 1 || data[0] != leadingByte {
		return nil, fmt.Errorf("%w: missing leading byte", ErrMalformed)
	}
	p := &Packet{}
	pos := 1
	for pos < len(data) {
		tag := data[pos]
		pos++
		if tag == tagMessageID {
			if pos+2 > len(data) {
				return nil, fmt.Errorf("%w: truncated message id", ErrMalformed)
			}
			id := binary.BigEndian.Uint16(data[pos : pos+2])
			p.MessageID = &id
			pos += 2
			continue
		}
		if pos >= len(data) {
			return nil, fmt.Errorf("%w: missing length byte for tag 0x%02x", ErrMalformed, tag)
		}
		n := int(data[pos])
		pos++
		if pos+n > len(data) {
			return nil, fmt.Errorf("%w: length overrun for tag 0x%02x", ErrMalformed, tag)
		}
		val := data[pos : pos+n]
		pos += n

		switch tag {
		case tagCallsign:
			p.Callsign = string(val)
		case tagDestination:
			p.Destination = string(val)
		case tagMessage:
			p.Message = string(val)
		case tagLocationRequest:
			p.LocationRequest = true
		case tagCallRequest:
			p.CallRequest = true
		case tagLocation:
			loc, err := decodeLocation(val)
			if err != nil {
				return nil, err
			}
			p.Location = loc
		default:
			p.Raw = append(p.Raw, RawField{Tag: tag, Value: append([]byte(nil), val...)})
		}
	}
	return p, nil
}

func decodeLocation(val []byte) (*Location, error) {
	if len(val) != 8 && len(val) != 10 {
		return nil, fmt.Errorf("%w: location field must be 8 or 10 bytes, got %d", ErrMalformed, len(val))
	}
	loc := &Location{
		LatMicroDeg: int32(binary.LittleEndian.Uint32(val[0:4])),
		LonMicroDeg: int32(binary.LittleEndian.Uint32(val[4:8])),
	}
	if len(val) == 10 {
		alt := int16(binary.LittleEndian.Uint16(val[8:10]))
		loc.Altitude = &alt
	}
	return loc, nil
}

// Encode renders p back to wire bytes, preserving Raw tags verbatim
// and writing known fields in a stable tag order.
func Encode(p *Packet) []byte {
	out := []byte{leadingByte}
	if p.Callsign != "" {
		out = appendTLV(out, tagCallsign, []byte(p.Callsign))
	}
	if p.Destination != "" {
		out = appendTLV(out, tagDestination, []byte(p.Destination))
	}
	if p.Message != "" {
		out = appendTLV(out, tagMessage, []byte(p.Message))
	}
	if p.Location != nil {
		out = appendTLV(out, tagLocation, encodeLocation(p.Location))
	}
	if p.LocationRequest {
		out = appendTLV(out, tagLocationRequest, nil)
	}
	if p.CallRequest {
		out = appendTLV(out, tagCallRequest, nil)
	}
	for _, raw := range p.Raw {
		out = appendTLV(out, raw.Tag, raw.Value)
	}
	if p.MessageID != nil {
		out = append(out, tagMessageID)
		var idBuf [2]byte
		binary.BigEndian.PutUint16(idBuf[:], *p.MessageID)
		out = append(out, idBuf[:]...)
	}
	return out
}

func appendTLV(out []byte, tag byte, val []byte) []byte {
	out = append(out, tag, byte(len(val)))
	return append(out, val...)
}

func encodeLocation(loc *Location) []byte {
	buf := make([]byte, 8, 10)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(loc.LatMicroDeg))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(loc.LonMicroDeg))
	if loc.Altitude != nil {
		var altBuf [2]byte
		binary.LittleEndian.PutUint16(altBuf[:], uint16(*loc.Altitude))
		buf = append(buf, altBuf[:]...)
	}
	return buf
}
