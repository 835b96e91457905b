// Package fetch implements the fetch orchestrator: given a parsed
// configuration, it reconciles a local destination directory against a
// remote origin, verifying everything it downloads before trusting it.
//
// Transport is owned here, not by internal/transport, mirroring the
// teacher's internal/docker.API pattern: the consumer defines the
// interface it needs, and a concrete implementation is wired in from
// cmd/tako (see internal/docker/interface.go's "Verify Client implements
// API at compile time" convention, echoed at the bottom of
// internal/transport/http.go).
package fetch

import (
	"bytes"
	"context"
	"io"

	"github.com/takodist/tako/internal/config"
	"github.com/takodist/tako/internal/digest"
	"github.com/takodist/tako/internal/errs"
	"github.com/takodist/tako/internal/history"
	"github.com/takodist/tako/internal/manifest"
	"github.com/takodist/tako/internal/store"
)

// maxManifestSize bounds how many bytes of a remote manifest this process
// will buffer in memory, per spec's "implementer SHOULD impose a size
// ceiling" guidance.
const maxManifestSize = 8 << 20 // 8 MiB

// Transport is the network collaborator fetch needs: retrieve the bytes of
// a manifest or a blob from an origin URL. HTTP is an external collaborator
// per scope — this interface has no knowledge of net/http.
type Transport interface {
	// GetManifest retrieves the full contents of originURL+"manifest".
	// Implementations MUST NOT read more than maxBytes and should return
	// *errs.OperationError if the response exceeds it.
	GetManifest(ctx context.Context, originURL string, maxBytes int64) ([]byte, error)

	// GetBlob opens a streaming read of originURL+"store/"+hexDigest. The
	// returned ReadCloser must be closed by the caller. contentLength is
	// the advertised length if known, else 0.
	GetBlob(ctx context.Context, originURL, hexDigest string) (body io.ReadCloser, contentLength int64, err error)
}

// Result summarizes the outcome of a single Run, for logging/metrics/history.
type Result struct {
	Selected    manifest.Entry
	Downloaded  bool
	NoCandidate bool
}

// Run executes the ten-step fetch algorithm against cfg using transport for
// network access, via a Store opened on cfg.Destination. hist, if non-nil,
// receives one record per atomic store operation this Run commits to disk
// (manifest replace, blob commit, pointer update), in addition to whatever
// outcome-level record the caller writes once Run returns.
func Run(ctx context.Context, cfg *config.Config, transport Transport, hist *history.DB) (Result, error) {
	s, err := store.Open(cfg.Destination)
	if err != nil {
		return Result{}, err
	}
	s.AttachHistory(hist)

	// Step 1: load and verify the local manifest, if any.
	localManifest, err := s.LoadManifest(cfg.PublicKey)
	if err != nil {
		return Result{}, err
	}

	// Step 2: download the remote manifest bytes under a size ceiling.
	remoteRaw, err := transport.GetManifest(ctx, cfg.Origin, maxManifestSize)
	if err != nil {
		return Result{}, err
	}
	if int64(len(remoteRaw)) > maxManifestSize {
		return Result{}, &errs.OperationError{Msg: "remote manifest exceeds size ceiling"}
	}

	// Step 3: parse and verify the remote manifest.
	remoteManifest, err := manifest.Parse(remoteRaw, cfg.PublicKey)
	if err != nil {
		return Result{}, err
	}

	// Step 4: the remote must be a superset of any local history.
	if localManifest != nil && !localManifest.IsSubsetOf(remoteManifest) {
		return Result{}, &errs.OperationError{Msg: "remote manifest is not a superset of the local manifest"}
	}

	// Step 5: persist the verified remote manifest as the new local one.
	if err := s.WriteVerifiedManifestBytes(remoteRaw, len(remoteManifest.Entries())); err != nil {
		return Result{}, err
	}

	// Step 6: select the latest compatible entry.
	lower, upper := cfg.Version.PatternToBounds()
	entry, ok := remoteManifest.LatestCompatibleEntry(lower, upper)
	if !ok {
		return Result{NoCandidate: true}, errs.ErrNoCandidate
	}

	// Steps 7-9: fetch the blob, or confirm it's already present and valid.
	// A corrupted local blob fails this Run outright (CheckBlob has already
	// deleted it); re-downloading it is the next invocation's job, not this
	// one's.
	downloaded := false
	status, err := s.CheckBlob(entry.Digest)
	if err != nil {
		return Result{}, err
	}
	if status != store.BlobPresentValid {
		body, _, err := transport.GetBlob(ctx, cfg.Origin, entry.Digest.String())
		if err != nil {
			return Result{}, &errs.DownloadError{Msg: "fetching blob", Err: err}
		}
		defer body.Close()

		if err := s.DownloadBlob(body, entry.Digest, entry.Length); err != nil {
			return Result{}, err
		}
		downloaded = true
	}

	// Step 10: update the latest pointer.
	if err := s.UpdatePointer(entry.Digest); err != nil {
		return Result{}, err
	}

	return Result{Selected: entry, Downloaded: downloaded}, nil
}

// VerifyBlobBytes computes the digest of a fully-buffered blob body; used
// by tests and by callers that already hold the bytes in memory rather than
// a stream.
func VerifyBlobBytes(body []byte, want digest.Digest) error {
	got, _, err := digest.Sum(bytes.NewReader(body))
	if err != nil {
		return err
	}
	if !got.Equal(want) {
		return &errs.InvalidDigest{Got: got.String(), Want: want.String()}
	}
	return nil
}
