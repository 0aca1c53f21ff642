package store

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"keyward/internal/account"
	"keyward/internal/crypto"
)

// envelopeVersion is the sealed account format written by this package.
const envelopeVersion = 1

// ErrWrongPassphrase is returned when the passphrase is incorrect or the
// sealed account has been modified.
var ErrWrongPassphrase = errors.New("store: wrong passphrase or corrupted account")

// scryptParams are the key-derivation costs recorded in every envelope.
type scryptParams struct {
	N, R, P int
}

var defaultScrypt = scryptParams{N: 1 << 15, R: 8, P: 1}

// envelope is the on-disk CBOR structure holding the ciphertext and KDF
// parameters.
type envelope struct {
	V      int    `cbor:"v"`
	Salt   []byte `cbor:"salt"`
	N      int    `cbor:"scrypt_n"`
	R      int    `cbor:"scrypt_r"`
	P      int    `cbor:"scrypt_p"`
	Cipher []byte `cbor:"cipher"`
}

// seal derives a key from passphrase and encrypts raw. The nonce is zero;
// every seal draws a fresh salt and so a fresh key.
func seal(passphrase string, raw []byte, params scryptParams) ([]byte, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, err
	}
	aead, err := newAEAD(passphrase, salt[:], params)
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	return cbor.Marshal(envelope{
		V:      envelopeVersion,
		Salt:   salt[:],
		N:      params.N,
		R:      params.R,
		P:      params.P,
		Cipher: aead.Seal(nil, nonce[:], raw, salt[:]),
	})
}

// open reverses seal.
func open(passphrase string, b []byte) ([]byte, error) {
	var env envelope
	if err := cbor.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("store: decoding account envelope: %w", err)
	}
	if env.V > envelopeVersion {
		return nil, fmt.Errorf("store: unsupported account envelope version %d", env.V)
	}
	aead, err := newAEAD(passphrase, env.Salt, scryptParams{N: env.N, R: env.R, P: env.P})
	if err != nil {
		return nil, err
	}
	var nonce [chacha20poly1305.NonceSize]byte
	pt, err := aead.Open(nil, nonce[:], env.Cipher, env.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return pt, nil
}

func newAEAD(passphrase string, salt []byte, params scryptParams) (cipher.AEAD, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, params.N, params.R, params.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)
	return chacha20poly1305.New(key)
}

// SealAccount pickles acc and seals it under passphrase.
func SealAccount(passphrase string, acc *account.Account) ([]byte, error) {
	return sealAccount(passphrase, acc, defaultScrypt)
}

func sealAccount(passphrase string, acc *account.Account, params scryptParams) ([]byte, error) {
	raw, err := acc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("store: encoding account: %w", err)
	}
	defer crypto.Wipe(raw)
	return seal(passphrase, raw, params)
}

// OpenAccount reverses SealAccount.
func OpenAccount(passphrase string, sealed []byte) (*account.Account, error) {
	raw, err := open(passphrase, sealed)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(raw)
	return account.Unmarshal(raw)
}
