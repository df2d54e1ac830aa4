package cache

import (
	"crypto/sha256"
	"fmt"

	"RoleplayChat/internal/session"
)

// Fingerprint generates a digest of the role and content of each turn.
// Local and server copies of a history with equal fingerprints are in sync.
func Fingerprint(turns []session.Turn) string {
	h := sha256.New()
	for _, t := range turns {
		h.Write([]byte(t.Role))
		h.Write([]byte{0})
		h.Write([]byte(t.Content))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// InSync reports whether two histories carry the same turns.
func InSync(local, remote []session.Turn) bool {
	if len(local) != len(remote) {
		return false
	}
	return Fingerprint(local) == Fingerprint(remote)
}
