// Package manifest implements tako's signed manifest format: a sorted,
// append-only index of (version, length, digest) entries, Ed25519-signed
// over every byte except its own trailing signature line.
//
// Grounded on the original Rust parser's line-oriented structure (header,
// blank line, entries, blank line, signature) and on this codebase's
// digest-handling style elsewhere (internal/digest), reimplemented against
// the spec's three-field entry line (version, length, digest) rather than
// the original's two-field one.
package manifest

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"sort"
	"strconv"

	"github.com/takodist/tako/internal/codec"
	"github.com/takodist/tako/internal/digest"
	"github.com/takodist/tako/internal/errs"
	"github.com/takodist/tako/internal/version"
)

const (
	header = "Tako Manifest 1"
	// signatureTrailerLen is the 88 base64 characters of an Ed25519
	// signature plus the trailing newline.
	signatureTrailerLen = 88 + 1
)

// Entry binds a Version to the length and digest of the blob it names.
// Ordering compares by Version only; Length and Digest are not part of the
// ordering key.
type Entry struct {
	Version version.Version
	Length  uint64
	Digest  digest.Digest
}

// Equal reports full triple equality: version (by original string, not just
// semantic equality), length, and digest all match.
func (e Entry) Equal(other Entry) bool {
	return e.Version.String() == other.Version.String() &&
		e.Length == other.Length &&
		e.Digest.Equal(other.Digest)
}

// Manifest is a sorted, signed sequence of Entries for one image.
type Manifest struct {
	entries []Entry
}

// New returns an empty Manifest.
func New() *Manifest {
	return &Manifest{}
}

// Entries returns a read-only view of the manifest's entries in ascending
// version order.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Insert adds entry in sorted position. If an entry with a semantically
// equal version already exists, Insert succeeds only if the existing and
// new entries are fully equal (digest and original version string both
// match); otherwise it returns a *errs.Duplicate naming the offending
// version and leaves m unchanged.
func (m *Manifest) Insert(entry Entry) error {
	i := sort.Search(len(m.entries), func(i int) bool {
		return version.Cmp(m.entries[i].Version, entry.Version) >= 0
	})
	if i < len(m.entries) && version.Eq(m.entries[i].Version, entry.Version) {
		if m.entries[i].Equal(entry) {
			return nil
		}
		return &errs.Duplicate{Version: entry.Version.String()}
	}
	m.entries = append(m.entries, Entry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = entry
	return nil
}

// IsSubsetOf reports whether every entry of m also occurs, in order, in
// other — a single merge-like pass over both (assumed sorted) sequences,
// not a set-membership check. This enforces that the two manifests agree on
// ordering history, not merely that every local entry is present somewhere
// in the remote.
func (m *Manifest) IsSubsetOf(other *Manifest) bool {
	j := 0
	for _, e := range m.entries {
		for {
			if j >= len(other.entries) {
				return false
			}
			if other.entries[j].Equal(e) {
				j++
				break
			}
			j++
		}
	}
	return true
}

// LatestCompatibleEntry returns the entry with the greatest version
// satisfying lower <= v <= upper, traversing in descending order and
// returning the first match. Returns (Entry{}, false) if none match.
func (m *Manifest) LatestCompatibleEntry(lower, upper version.Version) (Entry, bool) {
	for i := len(m.entries) - 1; i >= 0; i-- {
		v := m.entries[i].Version
		if version.Cmp(lower, v) <= 0 && version.Cmp(v, upper) <= 0 {
			return m.entries[i], true
		}
	}
	return Entry{}, false
}

// Serialize renders m in wire format and signs it with key, which must be a
// 64-byte Ed25519 private key. The signature covers every byte up to (but
// not including) the signature line itself.
func Serialize(m *Manifest, key ed25519.PrivateKey) []byte {
	var buf bytes.Buffer
	buf.WriteString(header)
	buf.WriteByte('\n')
	buf.WriteByte('\n')
	for _, e := range m.entries {
		buf.WriteString(e.Version.String())
		buf.WriteByte(' ')
		buf.WriteString(strconv.FormatUint(e.Length, 10))
		buf.WriteByte(' ')
		buf.WriteString(e.Digest.String())
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	sig := ed25519.Sign(key, buf.Bytes())
	buf.WriteString(codec.EncodeBase64(sig))
	buf.WriteByte('\n')
	return buf.Bytes()
}

// Parse parses and verifies raw against the wire format, checking the
// Ed25519 signature against pub (a 32-byte Ed25519 public key). Structural
// errors and signature errors are distinct error kinds; either may surface
// first depending on which check runs — this implementation performs full
// structural parsing before verifying the signature, per spec.
func Parse(raw []byte, pub ed25519.PublicKey) (*Manifest, error) {
	if len(raw) < signatureTrailerLen {
		return nil, &errs.InvalidManifest{Msg: "manifest shorter than signature trailer"}
	}

	message := raw[:len(raw)-signatureTrailerLen]
	trailer := raw[len(raw)-signatureTrailerLen:]

	lines := bytes.Split(message, []byte{'\n'})
	if len(lines) < 2 {
		return nil, &errs.InvalidManifest{Msg: "unexpected end of manifest"}
	}

	if err := parseHeader(lines[0]); err != nil {
		return nil, err
	}
	if len(lines[1]) != 0 {
		return nil, &errs.InvalidManifest{Msg: "expected blank line after header line"}
	}

	// lines[2:] holds the entry lines followed by the blank terminator line,
	// followed in turn by the empty string bytes.Split always leaves after a
	// trailing '\n'. Consume entries until the terminator, then require
	// nothing but that split artifact remains.
	m := New()
	rest := lines[2:]
	i := 0
	for ; i < len(rest); i++ {
		if len(rest[i]) == 0 {
			break
		}
		e, err := parseEntryLine(rest[i])
		if err != nil {
			return nil, err
		}
		m.entries = append(m.entries, e)
	}
	if i == len(rest) {
		return nil, &errs.InvalidManifest{Msg: "manifest body must end with a blank line"}
	}
	if remaining := rest[i+1:]; len(remaining) != 1 || len(remaining[0]) != 0 {
		return nil, &errs.InvalidManifest{Msg: "unexpected trailing data after manifest entries"}
	}

	if err := verifyTrailer(trailer); err != nil {
		return nil, err
	}
	sigLine := trailer[:signatureTrailerLen-1]
	sig, err := codec.DecodeBase64(string(sigLine))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidSignatureData, err)
	}
	if len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: signature is %d bytes, want %d", errs.ErrInvalidSignatureData, len(sig), ed25519.SignatureSize)
	}
	if !ed25519.Verify(pub, message, sig) {
		return nil, errs.ErrInvalidSignature
	}

	return m, nil
}

func parseHeader(line []byte) error {
	if string(line) == header {
		return nil
	}
	if bytes.HasPrefix(line, []byte("Tako Manifest")) {
		return &errs.InvalidManifest{Msg: "manifest version is not supported"}
	}
	return &errs.InvalidManifest{Msg: "missing 'Tako Manifest 1' header"}
}

func verifyTrailer(trailer []byte) error {
	if len(trailer) != signatureTrailerLen {
		return &errs.InvalidManifest{Msg: "malformed signature trailer"}
	}
	if trailer[signatureTrailerLen-1] != '\n' {
		return &errs.InvalidManifest{Msg: "manifest does not end with a single trailing newline"}
	}
	return nil
}

func parseEntryLine(line []byte) (Entry, error) {
	firstSpace := bytes.IndexByte(line, ' ')
	if firstSpace < 0 {
		return Entry{}, &errs.InvalidManifest{Msg: "entry line missing fields"}
	}
	versionStr := string(line[:firstSpace])
	rest := line[firstSpace+1:]

	secondSpace := bytes.IndexByte(rest, ' ')
	if secondSpace < 0 {
		return Entry{}, &errs.InvalidManifest{Msg: "entry line missing digest field"}
	}
	lengthStr := string(rest[:secondSpace])
	digestStr := string(rest[secondSpace+1:])

	v, err := version.Parse(versionStr)
	if err != nil {
		return Entry{}, &errs.InvalidManifest{Msg: "entry version: " + err.Error()}
	}
	length, err := strconv.ParseUint(lengthStr, 10, 64)
	if err != nil {
		return Entry{}, &errs.InvalidManifest{Msg: "entry length is not a valid decimal u64: " + lengthStr}
	}
	d, err := digest.Parse(digestStr)
	if err != nil {
		return Entry{}, &errs.InvalidManifest{Msg: "entry digest: " + err.Error()}
	}
	return Entry{Version: v, Length: length, Digest: d}, nil
}
