package crypto

import (
	"strings"

	"keyward/internal/domain/types"
)

// Fingerprint formats a signing key for display, in space-separated groups
// of four characters as Matrix clients show it.
func Fingerprint(key types.Ed25519) string {
	s := key.String()
	var b strings.Builder
	for i := 0; i < len(s); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := min(i+4, len(s))
		b.WriteString(s[i:end])
	}
	return b.String()
}
