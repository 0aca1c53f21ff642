package crypto

import "encoding/base64"

// B64 returns unpadded standard base64, as used for Matrix keys and signatures.
func B64(b []byte) string { return base64.RawStdEncoding.EncodeToString(b) }

// DecodeB64 accepts unpadded or padded standard base64.
func DecodeB64(s string) ([]byte, error) {
	if len(s)%4 == 0 {
		if b, err := base64.StdEncoding.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return base64.RawStdEncoding.DecodeString(s)
}
