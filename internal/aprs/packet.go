// Package aprs implements the APRS message handler (§4.5 C11):
// classification, de-duplication, time-windowed HMAC authentication,
// and a retry queue for addressed messages.
package aprs

import "strings"

// DataType classifies a decoded APRS packet by its information-field
// leading byte (§4.5 "classifies").
type DataType string

const (
	TypeMessage         DataType = "Message"
	TypePosition         DataType = "Position"
	TypePositionMsg      DataType = "PositionMsg"
	TypePositionTime     DataType = "PositionTime"
	TypePositionTimeMsg  DataType = "PositionTimeMsg"
	TypeWeather          DataType = "Weather"
	TypeStatus           DataType = "Status"
	TypeTelemetry        DataType = "Telemetry"
	TypeObject           DataType = "Object"
	TypeItem             DataType = "Item"
	TypeOther            DataType = "Other"
)

// Packet is a decoded APRS packet as delivered to the handler: the
// AX.25 addressing plus the parsed information field.
type Packet struct {
	Source      string // CALL-SSID
	Destination string // CALL-SSID (the AX.25 destination field, APRS "TOCALL")
	Path        []string
	Info        string
	DataType    DataType
}

// Classify derives the DataType of an information field (§4.5).
// The messaging-capable variants (PositionMsg/PositionTimeMsg) are
// distinguished from their plain counterparts by their leading
// data-type byte ('=' / '@' rather than '!' / '/'), like every other
// type the classifier recognizes.
func Classify(info string) DataType {
	if info == "" {
		return TypeOther
	}
	switch info[0] {
	case ':':
		return TypeMessage
	case '!':
		return TypePosition
	case '=':
		return TypePositionMsg
	case '/':
		return TypePositionTime
	case '@':
		return TypePositionTimeMsg
	case '_':
		return TypeWeather
	case '>':
		return TypeStatus
	case 'T':
		return TypeTelemetry
	case ';':
		return TypeObject
	case ')':
		return TypeItem
	default:
		return TypeOther
	}
}

// ParsedMessage is the structure of a Message-type information field:
// ":DEST     :text}TOKEN{SEQ", where the "}TOKEN" trust token and the
// "{SEQ" message id are each optional (§4.5 "Wire format for
// authenticated message").
type ParsedMessage struct {
	Addressee string
	Text      string
	SeqID     string
	Token     string
	IsAck     bool
	AckSeqID  string
}

// ParseMessage decodes a Message-type information field, including its
// leading ':'.
func ParseMessage(info string) (ParsedMessage, bool) {
	if len(info) == 0 || info[0] != ':' {
		return ParsedMessage{}, false
	}
	body := info[1:]
	if len(body) < 9 || body[9] != ':' {
		return ParsedMessage{}, false
	}
	addressee := strings.TrimRight(body[:9], " ")
	rest := body[10:]

	if strings.HasPrefix(rest, "ack") {
		ackBody := rest[3:]
		ackSeq, ackToken := ackBody, ""
		if idx := strings.IndexByte(ackBody, '}'); idx >= 0 {
			ackSeq, ackToken = ackBody[:idx], ackBody[idx+1:]
		}
		return ParsedMessage{Addressee: addressee, IsAck: true, AckSeqID: strings.TrimSpace(ackSeq), Token: strings.TrimSpace(ackToken)}, true
	}

	// Wire order is "text}TOKEN{SEQ" (§4.5): split off the text first,
	// then pull SEQ off the tail of whatever follows the token marker.
	text := rest
	tail := ""
	if idx := strings.IndexByte(rest, '}'); idx >= 0 {
		text = rest[:idx]
		tail = rest[idx+1:]
	}
	token := tail
	var seq string
	if idx := strings.IndexByte(tail, '{'); idx >= 0 {
		token = tail[:idx]
		seq = tail[idx+1:]
	} else if idx := strings.IndexByte(text, '{'); idx >= 0 && tail == "" {
		seq = text[idx+1:]
		text = text[:idx]
	}
	return ParsedMessage{Addressee: addressee, Text: text, SeqID: seq, Token: token}, true
}

// EncodeMessage renders an outgoing message line (§4.5 wire format).
func EncodeMessage(dest, text, seqID, token string) string {
	padded := dest
	for len(padded) < 9 {
		padded += " "
	}
	out := ":" + padded + ":" + text
	if token != "" {
		out += "}" + token
	}
	if seqID != "" {
		out += "{" + seqID
	}
	return out
}

// EncodeAck renders an ACK line (§4.5 "ack form").
func EncodeAck(dest, seqID, token string) string {
	padded := dest
	for len(padded) < 9 {
		padded += " "
	}
	out := ":" + padded + ":ack" + seqID
	if token != "" {
		out += "}" + token
	}
	return out
}
