// Package publish implements the publish orchestrator promoted from
// spec.md §2's prose control-flow ("Store reads secret key, loads local
// Manifest..., inserts a new Entry, re-signs and atomically writes the
// Manifest") into a full component, giving the `store` CLI subcommand
// something concrete to call.
package publish

import (
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/takodist/tako/internal/config"
	"github.com/takodist/tako/internal/digest"
	"github.com/takodist/tako/internal/history"
	"github.com/takodist/tako/internal/manifest"
	"github.com/takodist/tako/internal/store"
	"github.com/takodist/tako/internal/version"
)

// Result reports the digest and length assigned to the newly published
// image, for display and for internal/history.
type Result struct {
	Digest digest.Digest
	Length uint64
}

// Run ingests secretKey, publishes sourcePath into dir at ver, and
// atomically re-signs and rewrites the manifest. hist, if non-nil, receives
// one record per atomic store operation this Run commits to disk (blob
// commit, manifest replace).
func Run(dir, sourcePath string, ver version.Version, secretKey config.SecretKey, hist *history.DB) (Result, error) {
	s, err := store.Open(dir)
	if err != nil {
		return Result{}, err
	}
	s.AttachHistory(hist)

	m, err := s.LoadManifest(secretKey.Public)
	if err != nil {
		return Result{}, err
	}
	if m == nil {
		m = manifest.New()
	}

	// Hash the source file in a read-only pass before touching the store:
	// a Duplicate error below must abort with zero filesystem mutation.
	d, length, err := hashFile(sourcePath)
	if err != nil {
		return Result{}, err
	}

	if err := m.Insert(manifest.Entry{Version: ver, Length: length, Digest: d}); err != nil {
		return Result{}, err
	}

	// Only now, with the insert accepted, copy the blob into the store
	// (skipping the copy if content-addressing already finds it there).
	if _, _, err := s.CopyBlob(sourcePath); err != nil {
		return Result{}, err
	}

	if err := s.WriteManifest(m, ed25519.PrivateKey(secretKey.Private)); err != nil {
		return Result{}, err
	}

	return Result{Digest: d, Length: length}, nil
}

// hashFile computes the digest and length of sourcePath without mutating the
// filesystem, so a rejected Insert never leaves behind a copied blob.
func hashFile(sourcePath string) (digest.Digest, uint64, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return digest.Digest{}, 0, fmt.Errorf("open source file: %w", err)
	}
	defer f.Close()

	d, n, err := digest.Sum(f)
	if err != nil {
		return digest.Digest{}, 0, fmt.Errorf("hash source file: %w", err)
	}
	return d, uint64(n), nil
}
