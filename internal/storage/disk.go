package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LocalSession stores objects on the local filesystem. Each bucket is a
// directory directly under baseDir and must already exist; the returned
// public URLs are file:// URLs.
type LocalSession struct {
	baseDir string
}

// NewLocalSession creates a LocalSession rooted at baseDir. The directory is
// created if it does not already exist.
func NewLocalSession(baseDir string) (*LocalSession, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: failed to create local base directory %q: %w", baseDir, err)
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to resolve absolute path for %q: %w", baseDir, err)
	}
	return &LocalSession{baseDir: abs}, nil
}

func (s *LocalSession) Bucket(name string) Bucket {
	return &localBucket{name: name, dir: filepath.Join(s.baseDir, name)}
}

// ProjectBuckets returns every bucket directory. The local backend has no
// notion of projects.
func (s *LocalSession) ProjectBuckets(_ context.Context, _ string) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list %q: %w", s.baseDir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (s *LocalSession) Close() error { return nil }

type localBucket struct {
	name string
	dir  string
}

func (b *localBucket) Name() string { return b.name }

func (b *localBucket) Exists(_ context.Context) error {
	if b.name == "" || b.name == "." || b.name == ".." || strings.ContainsAny(b.name, `/\`) {
		return fmt.Errorf("storage: invalid bucket name %q: %w", b.name, ErrBucketNotFound)
	}
	info, err := os.Stat(b.dir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return fmt.Errorf("storage: bucket %q: %w", b.name, ErrBucketNotFound)
	}
	if err != nil {
		return fmt.Errorf("storage: bucket %q: %w", b.name, err)
	}
	return nil
}

func (b *localBucket) Probe(ctx context.Context) error {
	name := probePrefix + uuid.New().String()
	if _, err := b.Upload(ctx, &UploadRequest{ObjectName: name, Content: strings.NewReader("ok")}); err != nil {
		return err
	}
	if err := os.Remove(b.path(name)); err != nil {
		return fmt.Errorf("storage: failed to delete probe %q: %w", name, err)
	}
	return nil
}

// Upload writes content to dir/objectName, creating any intermediate
// directories as needed.
func (b *localBucket) Upload(_ context.Context, req *UploadRequest) (*UploadResult, error) {
	dest := b.path(req.ObjectName)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("storage: failed to create directory for %q: %w", req.ObjectName, err)
	}

	f, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to create file %q: %w", dest, err)
	}
	defer f.Close()

	n, err := io.Copy(f, req.Content)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to write file %q: %w", dest, err)
	}

	return &UploadResult{ObjectName: req.ObjectName, Size: n}, nil
}

// MakePublic only checks the object exists; local files are readable by
// anyone who can reach the directory.
func (b *localBucket) MakePublic(_ context.Context, objectName string) error {
	if _, err := os.Stat(b.path(objectName)); err != nil {
		return fmt.Errorf("storage: failed to make %q public: %w", objectName, err)
	}
	return nil
}

func (b *localBucket) PublicURL(objectName string) string {
	fileURL := &url.URL{Scheme: "file", Path: filepath.ToSlash(b.path(objectName))}
	return fileURL.String()
}

func (b *localBucket) path(objectName string) string {
	return filepath.Join(b.dir, filepath.FromSlash(objectName))
}
