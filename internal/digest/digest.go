// Package digest holds the fixed-size SHA-256 digest type shared by the
// manifest and store packages, plus the streaming and single-pass hashers
// both paths need. Grounded on the way the rest of this codebase computes
// content digests (crypto/sha256 over the full byte sequence, rendered as
// lowercase hex) rather than introducing a heavier digest abstraction.
package digest

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"

	"github.com/takodist/tako/internal/codec"
)

// Size is the length in bytes of a SHA-256 digest.
const Size = sha256.Size

// Digest is a fixed 32-byte SHA-256 value. Equality is plain bytewise
// comparison — verification here runs client-side against data whose order
// an attacker does not control, so constant-time comparison buys nothing.
type Digest [Size]byte

// Zero is the digest with all bytes zero; useful as a "not yet computed" sentinel.
var Zero Digest

// Equal reports whether d and other hold the same bytes.
func (d Digest) Equal(other Digest) bool { return d == other }

// String renders d as lowercase hex.
func (d Digest) String() string { return codec.EncodeHex(d[:]) }

// ErrInvalidDigest is returned by Parse when s is not exactly 64 lowercase
// hex characters.
type ErrInvalidDigest struct {
	Reason string
}

func (e *ErrInvalidDigest) Error() string { return "invalid digest: " + e.Reason }

// Parse decodes a 64-character lowercase hex string into a Digest.
func Parse(s string) (Digest, error) {
	var d Digest
	if len(s) != 2*Size {
		return d, &ErrInvalidDigest{Reason: fmt.Sprintf("length %d, want %d", len(s), 2*Size)}
	}
	raw, err := codec.DecodeHex(s)
	if err != nil {
		return d, &ErrInvalidDigest{Reason: err.Error()}
	}
	copy(d[:], raw)
	return d, nil
}

// Sum computes the SHA-256 digest of all of r's bytes in a single pass,
// suitable for the publish path's mmap'd source file.
func Sum(r io.Reader) (Digest, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Digest{}, 0, err
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d, n, nil
}

// Streaming incrementally hashes chunks as they arrive, for the fetch path
// where bytes come off the network rather than from a file already on disk.
type Streaming struct {
	h      hash.Hash
	length int64
}

// NewStreaming starts a new incremental SHA-256 computation.
func NewStreaming() *Streaming {
	return &Streaming{h: sha256.New()}
}

// Write feeds another chunk into the running hash.
func (s *Streaming) Write(p []byte) (int, error) {
	n, err := s.h.Write(p)
	s.length += int64(n)
	return n, err
}

// Len returns the cumulative number of bytes written so far.
func (s *Streaming) Len() int64 { return s.length }

// Sum returns the Digest of the bytes written so far. Like hash.Hash.Sum, it
// does not change the running state: later Writes continue the same hash.
func (s *Streaming) Sum() Digest {
	var d Digest
	copy(d[:], s.h.Sum(nil))
	return d
}
