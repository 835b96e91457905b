// Package store implements tako's on-disk content-addressed layout and its
// atomic update protocol:
//
//	<destination>/
//	  manifest          — signed manifest, read-only
//	  manifest.new      — only present mid-write; cleanup target
//	  latest            — symlink -> store/<hexdigest>
//	  store/
//	    <hexdigest>      — blob, read-only
//	    <hexdigest>.new  — only present mid-download; cleanup target
//
// Every write goes through the scoped-tempfile discipline in tempfile.go:
// write to "<target>.new", chmod read-only, rename into place. Grounded on
// this codebase's own atomic-write pattern (internal/metrics's textfile
// writer: temp file, encode, close, rename) generalized to cover blobs and
// manifests, plus the content-addressed local-cache design in the retrieval
// pack's OCI artifact store (download under a temp name, verify digest,
// promote on match, delete on mismatch).
package store

import (
	"crypto/ed25519"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/takodist/tako/internal/digest"
	"github.com/takodist/tako/internal/errs"
	"github.com/takodist/tako/internal/history"
	"github.com/takodist/tako/internal/manifest"
	"github.com/takodist/tako/internal/metrics"
)

// Store is a single destination directory's content-addressed layout.
type Store struct {
	dir  string
	hist *history.DB
}

// Open binds a Store to dir, which must already exist. The store/
// subdirectory is created on demand, never dir itself.
func Open(dir string) (*Store, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("open store: %q is not a directory", dir)
	}
	return &Store{dir: dir}, nil
}

// AttachHistory enables per-operation history recording: every atomic store
// operation s commits from this point on writes one internal/history record
// immediately after its rename succeeds. Passing nil disables recording,
// the default after Open.
func (s *Store) AttachHistory(hist *history.DB) {
	s.hist = hist
}

// recordCommit writes one history record for an atomic store operation that
// has already committed to disk. It never runs for an aborted or
// rolled-back attempt — every call site calls this only after its rename
// or chmod-and-rename has succeeded.
func (s *Store) recordCommit(operation, digestHex string) {
	if s.hist == nil {
		return
	}
	_ = s.hist.Record(history.Record{
		Timestamp:   time.Now(),
		Operation:   operation,
		Destination: s.dir,
		Digest:      digestHex,
		Outcome:     history.OutcomeSuccess,
	})
}

// Dir returns the destination directory path.
func (s *Store) Dir() string { return s.dir }

func (s *Store) manifestPath() string { return filepath.Join(s.dir, "manifest") }
func (s *Store) latestPath() string   { return filepath.Join(s.dir, "latest") }
func (s *Store) storeDir() string     { return filepath.Join(s.dir, "store") }

// BlobPath returns the path a blob with the given digest would live at.
func (s *Store) BlobPath(d digest.Digest) string {
	return filepath.Join(s.storeDir(), d.String())
}

func (s *Store) ensureStoreDir() error {
	return os.MkdirAll(s.storeDir(), 0o755)
}

// LoadManifest reads and verifies <dir>/manifest against pub. A missing
// manifest is not an error: it returns (nil, nil).
func (s *Store) LoadManifest(pub ed25519.PublicKey) (*manifest.Manifest, error) {
	raw, err := os.ReadFile(s.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read local manifest: %w", err)
	}
	m, err := manifest.Parse(raw, pub)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// WriteManifest signs m with key and atomically replaces <dir>/manifest.
func (s *Store) WriteManifest(m *manifest.Manifest, key ed25519.PrivateKey) error {
	raw := manifest.Serialize(m, key)
	if err := s.writeFileAtomic(s.manifestPath(), raw); err != nil {
		return err
	}
	metrics.ManifestEntries.Set(float64(len(m.Entries())))
	s.recordCommit("manifest_replace", "")
	return nil
}

// WriteVerifiedManifestBytes atomically replaces <dir>/manifest with raw,
// which the caller must already have parsed and verified — used by the
// fetch path, which downloads and verifies remote bytes before persisting
// them rather than re-serializing a Manifest value. entryCount is the
// number of entries in the manifest raw encodes, for the entries gauge.
func (s *Store) WriteVerifiedManifestBytes(raw []byte, entryCount int) error {
	if err := s.writeFileAtomic(s.manifestPath(), raw); err != nil {
		return err
	}
	metrics.ManifestEntries.Set(float64(entryCount))
	s.recordCommit("manifest_replace", "")
	return nil
}

func (s *Store) writeFileAtomic(target string, data []byte) error {
	tmp, err := createTempFile(target)
	if err != nil {
		return err
	}
	defer tmp.Close()
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	return tmp.Commit()
}

// BlobStatus reports what CheckBlob found on disk.
type BlobStatus int

const (
	// BlobMissing means no file exists at the blob's path yet.
	BlobMissing BlobStatus = iota
	// BlobPresentValid means a file exists and its digest matches.
	BlobPresentValid
)

// CheckBlob inspects the on-disk state of the blob for d. If a file exists
// at that path, its SHA-256 is recomputed; a mismatch deletes the file and
// returns *errs.InvalidDigest. The caller must fail the current run on this
// error; the deleted file only makes the blob eligible for a fresh download
// on the next invocation. A match returns BlobPresentValid with no error,
// telling the caller to skip the download.
func (s *Store) CheckBlob(d digest.Digest) (BlobStatus, error) {
	path := s.BlobPath(d)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return BlobMissing, nil
		}
		return BlobMissing, fmt.Errorf("open existing blob: %w", err)
	}
	defer f.Close()

	got, _, err := digest.Sum(f)
	if err != nil {
		return BlobMissing, fmt.Errorf("hash existing blob: %w", err)
	}
	if !got.Equal(d) {
		_ = os.Remove(path)
		return BlobMissing, &errs.InvalidDigest{Got: got.String(), Want: d.String()}
	}
	return BlobPresentValid, nil
}

// DownloadBlob streams r into <dir>/store/<hexdigest>.new, hashing as it
// goes. If expectedLength is nonzero, the download aborts with
// *errs.InvalidSize the moment more bytes arrive than expected. After EOF,
// the final length and digest must match wantDigest and expectedLength
// exactly, or the scratch file is discarded and an error returned. On
// success the blob is chmod'd read-only and renamed into place.
func (s *Store) DownloadBlob(r io.Reader, wantDigest digest.Digest, expectedLength uint64) error {
	if err := s.ensureStoreDir(); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	target := s.BlobPath(wantDigest)
	tmp, err := createTempFile(target)
	if err != nil {
		return err
	}
	defer tmp.Close()

	hasher := digest.NewStreaming()
	buf := make([]byte, 32*1024)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, werr := tmp.Write(chunk); werr != nil {
				return werr
			}
			if _, herr := hasher.Write(chunk); herr != nil {
				return herr
			}
			if expectedLength != 0 && uint64(hasher.Len()) > expectedLength {
				return &errs.InvalidSize{Got: uint64(hasher.Len()), Want: expectedLength}
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return &errs.DownloadError{Msg: "reading blob body", Err: rerr}
		}
	}

	if expectedLength != 0 && uint64(hasher.Len()) != expectedLength {
		return &errs.InvalidSize{Got: uint64(hasher.Len()), Want: expectedLength}
	}
	if got := hasher.Sum(); !got.Equal(wantDigest) {
		return &errs.InvalidDigest{Got: got.String(), Want: wantDigest.String()}
	}

	if err := tmp.Commit(); err != nil {
		return err
	}
	metrics.BlobBytesDownloaded.Add(float64(hasher.Len()))
	s.recordCommit("blob_commit", wantDigest.String())
	return nil
}

// UpdatePointer makes <dir>/latest a symlink to store/<hexdigest>, the
// relative path required by the spec. If the link already points there, it
// does nothing; otherwise it replaces the link (atomically: build the new
// link under a temp name, then rename over the old one).
func (s *Store) UpdatePointer(d digest.Digest) error {
	target := filepath.Join("store", d.String())

	if existing, err := os.Readlink(s.latestPath()); err == nil && existing == target {
		return nil
	}

	tmpLink := s.latestPath() + ".new"
	_ = os.Remove(tmpLink)
	if err := os.Symlink(target, tmpLink); err != nil {
		return fmt.Errorf("create latest symlink: %w", err)
	}
	if err := os.Rename(tmpLink, s.latestPath()); err != nil {
		_ = os.Remove(tmpLink)
		return fmt.Errorf("rename latest symlink into place: %w", err)
	}
	metrics.PointerUpdatesTotal.Inc()
	s.recordCommit("pointer_update", d.String())
	return nil
}

// LatestValid reports whether <dir>/latest already points at a blob that
// exists and hashes correctly, used by the `fetch --init` CLI filter to skip
// destinations that are already populated.
func (s *Store) LatestValid() (digest.Digest, bool, error) {
	target, err := os.Readlink(s.latestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return digest.Digest{}, false, nil
		}
		return digest.Digest{}, false, fmt.Errorf("read latest symlink: %w", err)
	}

	hex := filepath.Base(target)
	d, err := digest.Parse(hex)
	if err != nil {
		return digest.Digest{}, false, nil
	}

	status, err := s.CheckBlob(d)
	if err != nil {
		return digest.Digest{}, false, nil
	}
	return d, status == BlobPresentValid, nil
}

// CopyBlob hashes src (a single pass, suitable for the publish path) and
// copies it into the store under its content-addressed name, skipping the
// copy if a valid blob with that digest already exists. It returns the
// digest and length of src.
func (s *Store) CopyBlob(srcPath string) (digest.Digest, uint64, error) {
	if err := s.ensureStoreDir(); err != nil {
		return digest.Digest{}, 0, fmt.Errorf("create store directory: %w", err)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return digest.Digest{}, 0, fmt.Errorf("open source image: %w", err)
	}
	defer src.Close()

	d, length, err := digest.Sum(src)
	if err != nil {
		return digest.Digest{}, 0, fmt.Errorf("hash source image: %w", err)
	}

	if status, err := s.CheckBlob(d); err == nil && status == BlobPresentValid {
		return d, uint64(length), nil
	}

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return digest.Digest{}, 0, fmt.Errorf("rewind source image: %w", err)
	}

	tmp, err := createTempFile(s.BlobPath(d))
	if err != nil {
		return digest.Digest{}, 0, err
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, src); err != nil {
		return digest.Digest{}, 0, err
	}
	if err := tmp.Commit(); err != nil {
		return digest.Digest{}, 0, err
	}
	s.recordCommit("blob_commit", d.String())

	return d, uint64(length), nil
}
