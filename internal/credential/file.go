package credential

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultFileName is the name of the temporary key file within its
// directory.
const DefaultFileName = "firebase-service-account.json"

// ScopedFile is a key file owned by a single publish run. Release must be
// called on every exit path; it is safe to call more than once.
type ScopedFile struct {
	path string
}

// Persist writes c to dir/DefaultFileName, readable only by the current
// user. An empty dir means os.TempDir().
func Persist(dir string, c *ServiceCredential) (*ScopedFile, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, DefaultFileName)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("credential: failed to create key file %q: %w", path, err)
	}
	sf := &ScopedFile{path: path}

	// A pre-existing file keeps its old mode through O_CREATE.
	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		_ = sf.Release()
		return nil, fmt.Errorf("credential: failed to restrict key file %q: %w", path, err)
	}
	if _, err := f.Write(c.Raw); err != nil {
		_ = f.Close()
		_ = sf.Release()
		return nil, fmt.Errorf("credential: failed to write key file %q: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = sf.Release()
		return nil, fmt.Errorf("credential: failed to close key file %q: %w", path, err)
	}
	return sf, nil
}

// Path is the location of the key file.
func (s *ScopedFile) Path() string { return s.path }

// Release overwrites the key file with zeros and removes it. A file that is
// already gone is not an error.
func (s *ScopedFile) Release() error {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err == nil && info.Mode().IsRegular() {
		// Best effort; removal below is what matters.
		if f, err := os.OpenFile(s.path, os.O_WRONLY, 0); err == nil {
			_, _ = f.Write(make([]byte, info.Size()))
			_ = f.Close()
		}
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("credential: failed to remove key file %q: %w", s.path, err)
	}
	return nil
}
