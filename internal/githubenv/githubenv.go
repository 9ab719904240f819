// Package githubenv appends KEY=value lines to the file GitHub Actions names
// in $GITHUB_ENV, making them environment variables for later steps of the
// job.
package githubenv

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrUnavailable is returned by Set when no file was configured.
var ErrUnavailable = errors.New("githubenv: GITHUB_ENV is not set")

// File is the propagation channel. The zero value, or a File with an empty
// path, is unavailable.
type File struct {
	path string
}

// New returns a File appending to path. path may be empty.
func New(path string) *File {
	return &File{path: path}
}

// Available reports whether Set can succeed.
func (f *File) Available() bool {
	return f != nil && f.path != ""
}

// Set appends key=value. The file is opened and closed on every call so each
// line is on disk as soon as Set returns.
func (f *File) Set(key, value string) error {
	if !f.Available() {
		return ErrUnavailable
	}
	if key == "" || strings.ContainsAny(key, "=\r\n") {
		return fmt.Errorf("githubenv: invalid key %q", key)
	}
	if strings.ContainsAny(value, "\r\n") {
		return fmt.Errorf("githubenv: value for %s contains a newline", key)
	}

	fh, err := os.OpenFile(f.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("githubenv: failed to open %q: %w", f.path, err)
	}
	if _, err := fmt.Fprintf(fh, "%s=%s\n", key, value); err != nil {
		_ = fh.Close()
		return fmt.Errorf("githubenv: failed to write %s: %w", key, err)
	}
	return fh.Close()
}
