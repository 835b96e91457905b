package store

import "os"

// scopedTempFile implements the "scoped tempfile" discipline every atomic
// write in this package goes through: open `<target>.new`, register a
// cleanup that fires on any non-success exit, and only on explicit Commit
// does the file get chmod'd read-only and renamed into place.
//
// This is the Go analogue of the acquire/arm-deferred-cleanup/disarm pattern
// the spec calls out — Go has no destructors, so the arming is a bool field
// checked in Close, and callers MUST defer Close immediately after Create.
type scopedTempFile struct {
	target    string
	tmpPath   string
	f         *os.File
	committed bool
}

// createTempFile opens target+".new" for writing, truncating any stale
// leftover from a previous killed process.
func createTempFile(target string) (*scopedTempFile, error) {
	tmpPath := target + ".new"
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, err
	}
	return &scopedTempFile{target: target, tmpPath: tmpPath, f: f}, nil
}

// Write implements io.Writer, writing to the scratch file.
func (s *scopedTempFile) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

// Commit chmods the scratch file read-only and renames it into place. After
// Commit returns successfully, a deferred Close is a no-op.
func (s *scopedTempFile) Commit() error {
	if err := s.f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(s.tmpPath, 0o444); err != nil {
		return err
	}
	if err := os.Rename(s.tmpPath, s.target); err != nil {
		return err
	}
	s.committed = true
	return nil
}

// Close is the release hook: on any non-success exit (Commit was never
// called, or failed before renaming), it unlinks the scratch file. Errors
// from the cleanup unlink are swallowed — the caller's primary error from
// the write scope is more informative than a failed-to-clean-up-after-a-
// failure error would be.
func (s *scopedTempFile) Close() error {
	if s.committed {
		return nil
	}
	_ = s.f.Close()
	_ = os.Remove(s.tmpPath)
	return nil
}
