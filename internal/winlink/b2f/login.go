package b2f

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// SecureLoginResponse derives the expected ";PR:" response for a given
// challenge and password. The real secure-login table used by
// production WinLink software is not part of this codebase's source
// material; this is a deterministic stand-in (SHA-256 of challenge
// and password, folded to a 5-digit decimal code) — see design notes.
func SecureLoginResponse(challenge, password string) string {
	sum := sha256.Sum256([]byte(challenge + ":" + password))
	n := binary.BigEndian.Uint32(sum[:4]) % 100000
	return fmt.Sprintf("%05d", n)
}
