// Package errs holds tako's error kinds. Following the style of this
// codebase's engine package (sentinel vars for comparable failures, small
// wrapper structs with Error()/Unwrap() for failures that carry data), every
// kind here is meant to be matched with errors.Is or errors.As at the top
// level CLI handler, never by inspecting Error() strings.
package errs

import (
	"errors"
	"fmt"
)

// Soft/comparable sentinel errors.
var (
	// ErrNoCandidate means selection found no entry matching the requested
	// pattern. The top-level command handler downgrades this to an
	// informational message and exits 0.
	ErrNoCandidate = errors.New("no candidate version found")

	// ErrInvalidSignature means the manifest parsed structurally but its
	// Ed25519 signature did not verify against the configured public key.
	ErrInvalidSignature = errors.New("invalid manifest signature")

	// ErrInvalidSignatureData means the signature line itself was malformed
	// (wrong base64, wrong decoded length) — distinct from a signature that
	// decoded fine but did not verify.
	ErrInvalidSignatureData = errors.New("invalid signature data")

	// ErrInvalidSecretKeyPrefix means a secret key string was missing the
	// required "SECRET+" prefix.
	ErrInvalidSecretKeyPrefix = errors.New("secret key missing SECRET+ prefix")

	// ErrInvalidSecretKeyData means a secret key string had the right prefix
	// but the payload did not decode to a valid 96-byte keypair.
	ErrInvalidSecretKeyData = errors.New("invalid secret key data")

	// ErrInvalidDigest means a blob's computed SHA-256 did not match the
	// digest recorded for it (in a manifest entry, or on disk already).
	ErrInvalidDigest = errors.New("invalid digest")

	// ErrInvalidSize means a downloaded blob's length did not match the
	// manifest entry's recorded length.
	ErrInvalidSize = errors.New("invalid size")
)

// InvalidConfig reports a config-file parse failure at a specific line.
type InvalidConfig struct {
	Line int
	Msg  string
}

func (e *InvalidConfig) Error() string {
	return fmt.Sprintf("invalid config at line %d: %s", e.Line, e.Msg)
}

// IncompleteConfig reports a missing required config key.
type IncompleteConfig struct {
	Msg string
}

func (e *IncompleteConfig) Error() string { return "incomplete config: " + e.Msg }

// InvalidPublicKeyData reports a PublicKey config value that didn't decode
// to 32 bytes.
type InvalidPublicKeyData struct {
	Line int
}

func (e *InvalidPublicKeyData) Error() string {
	return fmt.Sprintf("invalid public key data at line %d", e.Line)
}

// InvalidManifest reports a structural manifest parse failure — anything
// that fails before signature verification is attempted.
type InvalidManifest struct {
	Msg string
}

func (e *InvalidManifest) Error() string { return "invalid manifest: " + e.Msg }

// Duplicate reports a publish-time conflict: an entry already exists at this
// version with a different digest or a differently-spelled original string.
type Duplicate struct {
	Version string
}

func (e *Duplicate) Error() string { return fmt.Sprintf("duplicate version %q", e.Version) }

// OperationError reports a policy violation or a configured limit exceeded
// (e.g. the remote manifest is not a superset of the local one, or the
// downloaded manifest exceeded the size ceiling).
type OperationError struct {
	Msg string
}

func (e *OperationError) Error() string { return "operation error: " + e.Msg }

// InvalidDigest reports a blob whose computed digest did not match what was
// expected, naming both sides for diagnostics. Unwraps to ErrInvalidDigest.
type InvalidDigest struct {
	Got  string
	Want string
}

func (e *InvalidDigest) Error() string {
	if e.Got == "" && e.Want == "" {
		return ErrInvalidDigest.Error()
	}
	return fmt.Sprintf("invalid digest: got %s, want %s", e.Got, e.Want)
}

func (e *InvalidDigest) Unwrap() error { return ErrInvalidDigest }

// InvalidSize reports a downloaded blob whose length did not match the
// manifest entry's recorded length. Unwraps to ErrInvalidSize.
type InvalidSize struct {
	Got  uint64
	Want uint64
}

func (e *InvalidSize) Error() string {
	return fmt.Sprintf("invalid size: got %d bytes, want %d", e.Got, e.Want)
}

func (e *InvalidSize) Unwrap() error { return ErrInvalidSize }

// DownloadError wraps a transport-layer failure.
type DownloadError struct {
	Msg string
	Err error
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download error: %s: %v", e.Msg, e.Err)
	}
	return "download error: " + e.Msg
}

func (e *DownloadError) Unwrap() error { return e.Err }
