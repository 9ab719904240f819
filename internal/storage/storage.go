// Package storage provides an abstraction over the object store that build
// artefacts are published to. The GCS implementation is the production
// backend; the local implementation writes into a directory tree and is used
// for dry runs and tests.
package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
)

var (
	// ErrBucketNotFound is returned when a bucket name does not resolve to an
	// existing bucket.
	ErrBucketNotFound = errors.New("storage: bucket does not exist")

	// ErrAccessDenied is returned when the credential is not authorised for
	// the requested operation.
	ErrAccessDenied = errors.New("storage: access denied")
)

// Session is an explicitly opened connection to a storage backend. It must be
// closed by the caller once publishing has finished.
type Session interface {
	// Bucket returns a handle for the named bucket. No network call is made;
	// use Bucket.Exists to check it.
	Bucket(name string) Bucket

	// ProjectBuckets lists the names of the buckets owned by projectID.
	ProjectBuckets(ctx context.Context, projectID string) ([]string, error)

	Close() error
}

// Bucket is a handle on a single bucket within a Session.
type Bucket interface {
	Name() string

	// Exists reports ErrBucketNotFound when the bucket is missing. A nil
	// error means the bucket can be used.
	Exists(ctx context.Context) error

	// Probe writes and then deletes a small object to confirm the credential
	// can write to the bucket.
	Probe(ctx context.Context) error

	Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error)

	// MakePublic grants unauthenticated read access to objectName.
	MakePublic(ctx context.Context, objectName string) error

	// PublicURL is the unauthenticated URL objectName is served from once it
	// has been made public.
	PublicURL(objectName string) string
}

type UploadRequest struct {
	// ObjectName is the object path within the bucket.
	ObjectName string

	// Content is the data to be uploaded.
	Content io.Reader

	// ContentType is the MIME type of the content, e.g.
	// "application/vnd.android.package-archive".
	ContentType string
}

// UploadResult is the outcome of a successful upload.
type UploadResult struct {
	// ObjectName is the object path within the bucket.
	ObjectName string

	// Size is the number of bytes written.
	Size int64
}

// escapeObjectName escapes each path segment of name independently so that
// the separators survive.
func escapeObjectName(name string) string {
	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
