package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/iam"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	publicBaseURL = "https://storage.googleapis.com"

	// probePrefix is where access probes are written. Probes are deleted
	// straight after being written.
	probePrefix = "builds/.publish-probe-"

	objectViewerRole iam.RoleName = "roles/storage.objectViewer"
)

// GCSOptions configures a GCSSession.
type GCSOptions struct {
	// CredentialsFile is the path to a service account key file.
	CredentialsFile string

	// GrantBucketIAM allows MakePublic to fall back to granting public read
	// on the whole bucket through IAM when object ACLs are disabled.
	GrantBucketIAM bool
}

// GCSSession is a Session backed by Google Cloud Storage.
type GCSSession struct {
	client         *storage.Client
	grantBucketIAM bool
}

// NewGCSSession creates a GCSSession. opts are passed through to the
// underlying GCS client after the credentials file option.
func NewGCSSession(ctx context.Context, o GCSOptions, opts ...option.ClientOption) (*GCSSession, error) {
	if o.CredentialsFile != "" {
		opts = append([]option.ClientOption{option.WithCredentialsFile(o.CredentialsFile)}, opts...)
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to create GCS client: %w", err)
	}
	return &GCSSession{client: client, grantBucketIAM: o.GrantBucketIAM}, nil
}

func (s *GCSSession) Bucket(name string) Bucket {
	return &gcsBucket{
		name:           name,
		handle:         s.client.Bucket(name),
		grantBucketIAM: s.grantBucketIAM,
	}
}

func (s *GCSSession) ProjectBuckets(ctx context.Context, projectID string) ([]string, error) {
	var names []string
	it := s.client.Buckets(ctx, projectID)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("storage: failed to list buckets for project %q: %w", projectID, classify(err))
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

func (s *GCSSession) Close() error {
	return s.client.Close()
}

type gcsBucket struct {
	name           string
	handle         *storage.BucketHandle
	grantBucketIAM bool
}

func (b *gcsBucket) Name() string { return b.name }

// Exists lists at most one object rather than reading bucket metadata, since
// object-level roles do not carry storage.buckets.get.
func (b *gcsBucket) Exists(ctx context.Context) error {
	it := b.handle.Objects(ctx, &storage.Query{Prefix: "builds/"})
	it.PageInfo().MaxSize = 1
	_, err := it.Next()
	return existence(b.name, err)
}

// existence interprets the result of a listing. Access denied means the
// bucket exists but the key cannot list it; a test write decides whether
// it is usable.
func existence(bucket string, err error) error {
	if err == nil || errors.Is(err, iterator.Done) {
		return nil
	}
	err = classify(err)
	if errors.Is(err, ErrAccessDenied) && !errors.Is(err, ErrBucketNotFound) {
		return nil
	}
	return fmt.Errorf("storage: bucket %q: %w", bucket, err)
}

func (b *gcsBucket) Probe(ctx context.Context) error {
	name := probePrefix + uuid.New().String()
	if _, err := b.Upload(ctx, &UploadRequest{
		ObjectName:  name,
		Content:     strings.NewReader("ok"),
		ContentType: "text/plain",
	}); err != nil {
		return err
	}
	if err := b.handle.Object(name).Delete(ctx); err != nil {
		return fmt.Errorf("storage: failed to delete probe %q: %w", name, classify(err))
	}
	return nil
}

// Upload writes content to the bucket at the requested object name.
func (b *gcsBucket) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	w := b.handle.Object(req.ObjectName).NewWriter(ctx)
	w.ContentType = req.ContentType

	n, err := io.Copy(w, req.Content)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("storage: upload write failed for %q: %w", req.ObjectName, classify(err))
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("storage: upload close failed for %q: %w", req.ObjectName, classify(err))
	}

	return &UploadResult{ObjectName: req.ObjectName, Size: n}, nil
}

func (b *gcsBucket) MakePublic(ctx context.Context, objectName string) error {
	err := b.handle.Object(objectName).ACL().Set(ctx, storage.AllUsers, storage.RoleReader)
	if err == nil {
		return nil
	}
	if !b.grantBucketIAM {
		return fmt.Errorf("storage: failed to make %q public: %w", objectName, classify(err))
	}
	if ierr := b.grantPublicRead(ctx); ierr != nil {
		return fmt.Errorf("storage: failed to make %q public: %w", objectName, errors.Join(classify(err), ierr))
	}
	return nil
}

// grantPublicRead adds allUsers as an object viewer on the bucket. Buckets
// with uniform bucket-level access reject per-object ACLs.
func (b *gcsBucket) grantPublicRead(ctx context.Context) error {
	h := b.handle.IAM()
	policy, err := h.Policy(ctx)
	if err != nil {
		return fmt.Errorf("storage: failed to read IAM policy for %q: %w", b.name, classify(err))
	}
	if policy.HasRole(iam.AllUsers, objectViewerRole) {
		return nil
	}
	policy.Add(iam.AllUsers, objectViewerRole)
	if err := h.SetPolicy(ctx, policy); err != nil {
		return fmt.Errorf("storage: failed to update IAM policy for %q: %w", b.name, classify(err))
	}
	return nil
}

func (b *gcsBucket) PublicURL(objectName string) string {
	return fmt.Sprintf("%s/%s/%s", publicBaseURL, b.name, escapeObjectName(objectName))
}

// classify maps GCS client errors onto the package sentinels while keeping
// the original error in the chain.
func classify(err error) error {
	if errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %w", ErrBucketNotFound, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrBucketNotFound, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrAccessDenied, err)
		}
	}
	return err
}
