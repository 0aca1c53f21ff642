package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/curve25519"

	"keyward/internal/domain/types"
)

// Curve25519KeyPair is a Diffie-Hellman key pair.
type Curve25519KeyPair struct {
	Private [curve25519.ScalarSize]byte `cbor:"private"`
	Public  types.Curve25519            `cbor:"public"`
}

// GenerateCurve25519 returns a fresh Curve25519 key pair.
// The private key is clamped per RFC 7748.
func GenerateCurve25519() (Curve25519KeyPair, error) {
	var kp Curve25519KeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return kp, err
	}
	clamp(&kp.Private)
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return kp, err
	}
	kp.Public = types.Curve25519(B64(pub))
	return kp, nil
}

func clamp(k *[curve25519.ScalarSize]byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}
