package account

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so the same account always
// pickles to the same bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("account: CBOR encoder initialization failed: " + err.Error())
	}
}

// Marshal pickles the account, private keys included. Callers are expected
// to encrypt the result before it touches disk.
func (a *Account) Marshal() ([]byte, error) {
	return encMode.Marshal(a)
}

// Unmarshal restores an account pickled by Marshal.
func Unmarshal(data []byte) (*Account, error) {
	var a Account
	if err := cbor.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("account: decoding: %w", err)
	}
	if a.OneTimeKeys == nil {
		a.OneTimeKeys = make(map[string]*OneTimeKey)
	}
	if a.MaxOneTimeKeys <= 0 {
		a.MaxOneTimeKeys = DefaultMaxOneTimeKeys
	}
	return &a, nil
}

// Clone returns a deep copy via a marshal round trip.
func (a *Account) Clone() (*Account, error) {
	data, err := a.Marshal()
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
