// Package codec implements the deterministic base64 and hex encodings tako
// uses inside signed manifest material. Both wrap the standard library's
// encoders — encoding/base64 and encoding/hex already implement RFC 4648 —
// with the extra rejection rules the manifest format depends on (no interior
// padding, no uppercase hex) made explicit rather than left to whatever
// CorruptInputError/InvalidByteError the stdlib happens to return.
package codec

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// ErrBase64 reports a base64 decode failure with the offending detail.
type ErrBase64 struct {
	Reason string
}

func (e *ErrBase64) Error() string { return "invalid base64: " + e.Reason }

// EncodeBase64 encodes bytes using the standard alphabet with '=' padding.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodeBase64 decodes s, rejecting lengths that are not a multiple of four
// and interior padding (a '=' anywhere but the last one or two characters of
// the final quartet).
func DecodeBase64(s string) ([]byte, error) {
	if len(s)%4 != 0 {
		return nil, &ErrBase64{Reason: fmt.Sprintf("length %d is not a multiple of 4", len(s))}
	}
	for i := 0; i < len(s); i++ {
		if s[i] == '=' && i < len(s)-2 {
			// Padding is only valid in the last quartet, at position 3
			// and/or 4 — which, since padding always trails the data, means
			// only the final two characters of the whole string.
			return nil, &ErrBase64{Reason: "interior padding character"}
		}
	}
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &ErrBase64{Reason: err.Error()}
	}
	return out, nil
}

// ErrHex reports a hex decode failure.
type ErrHex struct {
	Reason string
}

func (e *ErrHex) Error() string { return "invalid hex: " + e.Reason }

// EncodeHex renders bytes as lowercase hexadecimal.
func EncodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// DecodeHex decodes lowercase hexadecimal. Uppercase input is rejected, since
// encoding/hex itself only accepts [0-9a-fA-F], which is looser than the
// manifest format allows.
func DecodeHex(s string) ([]byte, error) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		isLowerHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
		if !isLowerHex {
			return nil, &ErrHex{Reason: fmt.Sprintf("byte %d (%q) is not lowercase hex", i, c)}
		}
	}
	out, err := hex.DecodeString(s)
	if err != nil {
		return nil, &ErrHex{Reason: err.Error()}
	}
	return out, nil
}
