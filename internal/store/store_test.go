package store

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/takodist/tako/internal/digest"
	"github.com/takodist/tako/internal/errs"
	"github.com/takodist/tako/internal/history"
	"github.com/takodist/tako/internal/manifest"
	"github.com/takodist/tako/internal/version"
)

func mustVersion(t *testing.T, s string) version.Version {
	t.Helper()
	v, err := version.Parse(s)
	if err != nil {
		t.Fatalf("parse version %q: %v", s, err)
	}
	return v
}

func TestOpenRejectsMissingDir(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error opening a nonexistent destination")
	}
}

func TestWriteManifestThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	m := manifest.New()
	var d digest.Digest
	for i := range d {
		d[i] = 0xAB
	}
	if err := m.Insert(manifest.Entry{Version: mustVersion(t, "1.0.0"), Length: 4, Digest: d}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := s.WriteManifest(m, priv); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	// No .new file should survive a successful commit.
	if _, err := os.Stat(s.manifestPath() + ".new"); !os.IsNotExist(err) {
		t.Fatalf("expected manifest.new to be gone, stat err = %v", err)
	}

	loaded, err := s.LoadManifest(pub)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	if loaded == nil {
		t.Fatalf("expected a manifest, got nil")
	}
	if len(loaded.Entries()) != 1 {
		t.Fatalf("expected one entry, got %d", len(loaded.Entries()))
	}

	info, err := os.Stat(s.manifestPath())
	if err != nil {
		t.Fatalf("stat manifest: %v", err)
	}
	if info.Mode().Perm()&0o222 != 0 {
		t.Fatalf("expected manifest to be written read-only, mode = %v", info.Mode())
	}
}

func TestLoadManifestMissingIsNilNil(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	pub, _, _ := ed25519.GenerateKey(nil)
	m, err := s.LoadManifest(pub)
	if err != nil {
		t.Fatalf("expected no error for a missing manifest, got %v", err)
	}
	if m != nil {
		t.Fatalf("expected nil manifest")
	}
}

func TestDownloadBlobVerifiesDigestAndSize(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	content := []byte("hello tako")
	want, n, err := digest.Sum(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}

	if err := s.DownloadBlob(bytes.NewReader(content), want, uint64(n)); err != nil {
		t.Fatalf("download blob: %v", err)
	}

	got, err := os.ReadFile(s.BlobPath(want))
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("blob content mismatch")
	}

	info, err := os.Stat(s.BlobPath(want))
	if err != nil {
		t.Fatalf("stat blob: %v", err)
	}
	if info.Mode().Perm()&0o222 != 0 {
		t.Fatalf("expected blob to be read-only, mode = %v", info.Mode())
	}
}

func TestDownloadBlobRejectsSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	content := []byte("hello tako")
	want, _, err := digest.Sum(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}

	err = s.DownloadBlob(bytes.NewReader(content), want, uint64(len(content)+1))
	var sizeErr *errs.InvalidSize
	if !errors.As(err, &sizeErr) {
		t.Fatalf("expected *errs.InvalidSize, got %v", err)
	}

	if _, statErr := os.Stat(s.BlobPath(want) + ".new"); !os.IsNotExist(statErr) {
		t.Fatalf("expected scratch file to be cleaned up, stat err = %v", statErr)
	}
}

func TestDownloadBlobRejectsDigestMismatch(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	content := []byte("hello tako")
	_, n, err := digest.Sum(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	var wrong digest.Digest
	wrong[0] = 0xFF

	err = s.DownloadBlob(bytes.NewReader(content), wrong, uint64(n))
	var digestErr *errs.InvalidDigest
	if !errors.As(err, &digestErr) {
		t.Fatalf("expected *errs.InvalidDigest, got %v", err)
	}
}

func TestCheckBlobDeletesCorruptedBlob(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.ensureStoreDir(); err != nil {
		t.Fatalf("ensure store dir: %v", err)
	}

	want, _, err := digest.Sum(bytes.NewReader([]byte("expected content")))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if err := os.WriteFile(s.BlobPath(want), []byte("corrupted content"), 0o644); err != nil {
		t.Fatalf("seed corrupted blob: %v", err)
	}

	status, err := s.CheckBlob(want)
	var digestErr *errs.InvalidDigest
	if !errors.As(err, &digestErr) {
		t.Fatalf("expected *errs.InvalidDigest, got %v", err)
	}
	if status != BlobMissing {
		t.Fatalf("expected BlobMissing after corruption detected")
	}
	if _, statErr := os.Stat(s.BlobPath(want)); !os.IsNotExist(statErr) {
		t.Fatalf("expected corrupted blob to be deleted")
	}
}

func TestCheckBlobAcceptsValidExistingBlob(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.ensureStoreDir(); err != nil {
		t.Fatalf("ensure store dir: %v", err)
	}

	content := []byte("valid content")
	want, _, err := digest.Sum(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if err := os.WriteFile(s.BlobPath(want), content, 0o644); err != nil {
		t.Fatalf("seed blob: %v", err)
	}

	status, err := s.CheckBlob(want)
	if err != nil {
		t.Fatalf("check blob: %v", err)
	}
	if status != BlobPresentValid {
		t.Fatalf("expected BlobPresentValid")
	}
}

func TestUpdatePointerCreatesRelativeSymlink(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var d digest.Digest
	d[0] = 0x01
	if err := s.UpdatePointer(d); err != nil {
		t.Fatalf("update pointer: %v", err)
	}

	target, err := os.Readlink(s.latestPath())
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	want := filepath.Join("store", d.String())
	if target != want {
		t.Fatalf("symlink target = %q, want %q", target, want)
	}
}

func TestUpdatePointerIsNoOpWhenAlreadyCorrect(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var d digest.Digest
	d[0] = 0x02
	if err := s.UpdatePointer(d); err != nil {
		t.Fatalf("first update: %v", err)
	}
	info1, err := os.Lstat(s.latestPath())
	if err != nil {
		t.Fatalf("lstat: %v", err)
	}

	if err := s.UpdatePointer(d); err != nil {
		t.Fatalf("second update: %v", err)
	}
	info2, err := os.Lstat(s.latestPath())
	if err != nil {
		t.Fatalf("lstat: %v", err)
	}
	if !info1.ModTime().Equal(info2.ModTime()) {
		t.Fatalf("expected the symlink to be untouched when already correct")
	}
}

func TestUpdatePointerReplacesStaleSymlink(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var d1, d2 digest.Digest
	d1[0] = 0x03
	d2[0] = 0x04

	if err := s.UpdatePointer(d1); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := s.UpdatePointer(d2); err != nil {
		t.Fatalf("second update: %v", err)
	}

	target, err := os.Readlink(s.latestPath())
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != filepath.Join("store", d2.String()) {
		t.Fatalf("symlink target = %q, want store/%s", target, d2.String())
	}
}

func TestLatestValidFalseWhenNoPointer(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, ok, err := s.LatestValid()
	if err != nil {
		t.Fatalf("latest valid: %v", err)
	}
	if ok {
		t.Fatalf("expected false with no latest pointer")
	}
}

func TestLatestValidTrueAfterDownload(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	content := []byte("pointer target content")
	d, n, err := digest.Sum(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if err := s.DownloadBlob(bytes.NewReader(content), d, uint64(n)); err != nil {
		t.Fatalf("download: %v", err)
	}
	if err := s.UpdatePointer(d); err != nil {
		t.Fatalf("update pointer: %v", err)
	}

	got, ok, err := s.LatestValid()
	if err != nil {
		t.Fatalf("latest valid: %v", err)
	}
	if !ok || got != d {
		t.Fatalf("expected valid pointer at %v, got %v ok=%v", d, got, ok)
	}
}

func TestLatestValidFalseWhenBlobCorrupted(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	content := []byte("will be corrupted")
	d, n, err := digest.Sum(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if err := s.DownloadBlob(bytes.NewReader(content), d, uint64(n)); err != nil {
		t.Fatalf("download: %v", err)
	}
	if err := s.UpdatePointer(d); err != nil {
		t.Fatalf("update pointer: %v", err)
	}
	if err := os.Chmod(s.BlobPath(d), 0o644); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if err := os.WriteFile(s.BlobPath(d), []byte("corrupted"), 0o644); err != nil {
		t.Fatalf("corrupt blob: %v", err)
	}

	_, ok, err := s.LatestValid()
	if err != nil {
		t.Fatalf("latest valid: %v", err)
	}
	if ok {
		t.Fatalf("expected false for a corrupted blob")
	}
}

func TestAttachedHistoryRecordsEachCommittedOperation(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	histPath := filepath.Join(t.TempDir(), "history.db")
	hist, err := history.Open(histPath)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer hist.Close()
	s.AttachHistory(hist)

	content := []byte("hello recorded tako")
	d, n, err := digest.Sum(bytes.NewReader(content))
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if err := s.DownloadBlob(bytes.NewReader(content), d, uint64(n)); err != nil {
		t.Fatalf("download blob: %v", err)
	}
	if err := s.UpdatePointer(d); err != nil {
		t.Fatalf("update pointer: %v", err)
	}

	records, err := hist.List(0)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 recorded operations, got %d: %+v", len(records), records)
	}
	if records[0].Operation != "pointer_update" || records[1].Operation != "blob_commit" {
		t.Fatalf("unexpected operations: %+v", records)
	}
	for _, r := range records {
		if r.Destination != dir {
			t.Fatalf("expected destination %q, got %q", dir, r.Destination)
		}
	}
}

func TestDetachedHistoryRecordsNothing(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var d digest.Digest
	d[0] = 0x05
	if err := s.UpdatePointer(d); err != nil {
		t.Fatalf("update pointer: %v", err)
	}
	// No AttachHistory call: recordCommit must be a silent no-op, not a panic.
}

func TestCopyBlobSkipsExistingValidBlob(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	content := []byte("published image bytes")
	srcPath := filepath.Join(t.TempDir(), "image.bin")
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	d1, n1, err := s.CopyBlob(srcPath)
	if err != nil {
		t.Fatalf("first copy: %v", err)
	}
	if n1 != uint64(len(content)) {
		t.Fatalf("length = %d, want %d", n1, len(content))
	}

	// The blob is read-only after the first commit, but a re-copy would still
	// succeed by writing a fresh .new and renaming it over the blob, so file
	// identity is what shows whether the second call left the blob in place.
	if err := os.Chmod(s.BlobPath(d1), 0o444); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	before, err := os.Stat(s.BlobPath(d1))
	if err != nil {
		t.Fatalf("stat before second copy: %v", err)
	}

	d2, n2, err := s.CopyBlob(srcPath)
	if err != nil {
		t.Fatalf("second copy: %v", err)
	}
	if d1 != d2 || n1 != n2 {
		t.Fatalf("expected identical digest/length on second copy")
	}
	after, err := os.Stat(s.BlobPath(d1))
	if err != nil {
		t.Fatalf("stat after second copy: %v", err)
	}
	if !os.SameFile(before, after) {
		t.Fatalf("expected the existing blob to be kept, not re-copied")
	}
}
