package b2f

import (
	"fmt"
	"strconv"
	"strings"
)

// Answer is the normalized verdict on one proposal (§4.7 "Proposal-
// response parsing normalizes synonyms").
type Answer int

const (
	AnswerPending Answer = iota
	AnswerAccept
	AnswerReject
	AnswerDefer
)

// Proposal is one FC line: "FC EM <MID> <uncompressed> <compressed> 0"
// (§4.7 step 3).
type Proposal struct {
	MID            string
	Uncompressed   int
	Compressed     int
	Answer         Answer
	Offset         int
}

// Line renders the FC wire line for this proposal (without the
// trailing \r, added by the caller alongside the rest of the block).
func (p Proposal) Line() string {
	return fmt.Sprintf("FC EM %s %d %d 0", p.MID, p.Uncompressed, p.Compressed)
}

// ParseProposalLine parses one "FC EM <MID> <uncompressed> <compressed> 0" line.
func ParseProposalLine(line string) (Proposal, error) {
	fields := strings.Fields(line)
	if len(fields) != 6 || fields[0] != "FC" || fields[1] != "EM" {
		return Proposal{}, fmt.Errorf("b2f: malformed proposal line %q", line)
	}
	uncompressed, err := strconv.Atoi(fields[3])
	if err != nil {
		return Proposal{}, fmt.Errorf("b2f: bad uncompressed size: %w", err)
	}
	compressed, err := strconv.Atoi(fields[4])
	if err != nil {
		return Proposal{}, fmt.Errorf("b2f: bad compressed size: %w", err)
	}
	return Proposal{MID: fields[2], Uncompressed: uncompressed, Compressed: compressed}, nil
}

// Checksum computes the F> verification byte: the low byte of the
// two's-complement sum of all "FC <proposal>\r" bytes (§4.7 step 3).
func Checksum(lines []string) byte {
	var sum int64
	for _, line := range lines {
		for _, c := range []byte(line) {
			sum += int64(c)
		}
		sum += int64('\r')
	}
	return byte((-sum) & 0xff)
}

// Byte renders one proposal's answer as the FS response
// character (§4.7 step 4: "Y accept, N have it, H hold").
func (a Answer) Byte() byte {
	switch a {
	case AnswerAccept:
		return 'Y'
	case AnswerReject:
		return 'N'
	case AnswerDefer:
		return 'H'
	default:
		return 'H'
	}
}

// ParseAnswerLine updates props in order from an "FS <answers>" body
// (the part after "FS "), normalizing synonyms (§4.7 "Proposal-response
// parsing normalizes synonyms: +->Y, R/-->N, =/H->L, !->A; intervening
// digits extend a response").
func ParseAnswerLine(body string, props []Proposal) ([]Proposal, error) {
	out := make([]Proposal, len(props))
	copy(out, props)

	idx := 0
	for i := 0; i < len(body); i++ {
		if idx >= len(out) {
			return nil, fmt.Errorf("b2f: more answers than proposals")
		}
		c := body[i]
		switch c {
		case 'Y', 'y', '+':
			out[idx].Answer = AnswerAccept
		case 'N', 'n', 'R', 'r', '-':
			out[idx].Answer = AnswerReject
		case 'L', 'l', '=', 'H', 'h':
			out[idx].Answer = AnswerDefer
		case 'A', 'a', '!':
			j := i + 1
			for j < len(body) && body[j] >= '0' && body[j] <= '9' {
				j++
			}
			offset, _ := strconv.Atoi(body[i+1 : j])
			out[idx].Answer = AnswerAccept
			out[idx].Offset = offset
			i = j - 1
		default:
			return nil, fmt.Errorf("b2f: invalid answer character %q", c)
		}
		idx++
	}
	return out, nil
}
