package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"keyward/internal/domain/types"
)

// Ed25519KeyPair is a signing key pair. Only the seed is kept; the private
// key is re-derived on use.
type Ed25519KeyPair struct {
	Seed   [ed25519.SeedSize]byte `cbor:"seed"`
	Public types.Ed25519          `cbor:"public"`
}

// GenerateEd25519 returns a new Ed25519 signing key pair.
func GenerateEd25519() (Ed25519KeyPair, error) {
	var kp Ed25519KeyPair
	pk, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return kp, err
	}
	copy(kp.Seed[:], sk.Seed())
	kp.Public = types.Ed25519(B64(pk))
	Wipe(sk)
	return kp, nil
}

// Sign signs msg and returns the unpadded-base64 signature.
func (kp *Ed25519KeyPair) Sign(msg []byte) string {
	sk := ed25519.NewKeyFromSeed(kp.Seed[:])
	defer Wipe(sk)
	return B64(ed25519.Sign(sk, msg))
}

// VerifyEd25519 verifies an unpadded-base64 signature over msg with pub.
func VerifyEd25519(pub types.Ed25519, msg []byte, sig string) (bool, error) {
	rawKey, err := DecodeB64(pub.String())
	if err != nil {
		return false, fmt.Errorf("decoding ed25519 key: %w", err)
	}
	if len(rawKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("ed25519 key: want %d bytes, got %d", ed25519.PublicKeySize, len(rawKey))
	}
	rawSig, err := DecodeB64(sig)
	if err != nil {
		return false, fmt.Errorf("decoding signature: %w", err)
	}
	if len(rawSig) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(ed25519.PublicKey(rawKey), msg, rawSig), nil
}
