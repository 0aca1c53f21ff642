package crypto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"keyward/internal/domain/types"
)

// ErrSignatureMissing is returned by VerifySignatureJSON when the object
// carries no signature for the requested signer and key.
var ErrSignatureMissing = errors.New("no signature for signer")

// CanonicalJSON returns the Matrix canonical form of a JSON object: keys
// sorted, no insignificant whitespace, with the "signatures" and "unsigned"
// members removed.
func CanonicalJSON(data []byte) ([]byte, error) {
	var obj map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	if obj == nil {
		return nil, errors.New("canonical json: not an object")
	}
	delete(obj, "signatures")
	delete(obj, "unsigned")
	return encodeCompact(obj)
}

// encodeCompact relies on encoding/json sorting map keys.
func encodeCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return unescapeLineSeparators(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// unescapeLineSeparators turns the \u2028 and \u2029 escapes encoding/json
// always emits back into raw UTF-8, as canonical JSON requires. An escape
// preceded by an escaped backslash is literal text and is left alone.
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			continue
		}
		if b[i+1] == 'u' && i+6 <= len(b) {
			switch string(b[i+2 : i+6]) {
			case "2028":
				out = append(out, "\u2028"...)
				i += 5
				continue
			case "2029":
				out = append(out, "\u2029"...)
				i += 5
				continue
			}
		}
		// Copy any other escape whole so its second byte is not rescanned.
		out = append(out, b[i], b[i+1])
		i++
	}
	return out
}

// SignJSON returns the signature of v's canonical JSON form.
func SignJSON(kp *Ed25519KeyPair, v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	canonical, err := CanonicalJSON(raw)
	if err != nil {
		return "", err
	}
	return kp.Sign(canonical), nil
}

// VerifySignatureJSON checks the signature made by signer with keyID (e.g.
// "ed25519:DEVICEID") over the canonical form of the JSON object data.
func VerifySignatureJSON(data []byte, signer types.UserID, keyID string, key types.Ed25519) (bool, error) {
	var envelope struct {
		Signatures types.Signatures `json:"signatures"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return false, fmt.Errorf("reading signatures: %w", err)
	}
	sig, ok := envelope.Signatures.Get(signer, keyID)
	if !ok {
		return false, fmt.Errorf("%w %s (%s)", ErrSignatureMissing, signer, keyID)
	}
	canonical, err := CanonicalJSON(data)
	if err != nil {
		return false, err
	}
	return VerifyEd25519(key, canonical, sig)
}
