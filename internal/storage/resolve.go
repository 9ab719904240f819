package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoBucket is returned by Resolve when every candidate has been tried.
var ErrNoBucket = errors.New("storage: no usable bucket")

// Candidate is one bucket naming strategy. Name is only called when every
// earlier candidate has failed.
type Candidate struct {
	// Source describes where the name came from, for diagnostics.
	Source string

	Name func(ctx context.Context) (string, error)
}

// Attempt records a candidate that was tried and rejected.
type Attempt struct {
	Source string
	Bucket string
	Err    error
}

// CleanBucketName strips a gs:// scheme and any trailing slash.
func CleanBucketName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "gs://")
	return strings.TrimRight(name, "/")
}

// Candidates returns the resolution chain, in order: the explicit bucket (if
// any), {projectID}.appspot.com, {projectID}, then whatever the backend
// reports as the project's default bucket.
func Candidates(s Session, explicit, projectID string) []Candidate {
	var cs []Candidate
	if name := CleanBucketName(explicit); name != "" {
		cs = append(cs, fixed("explicit bucket", name))
	}
	return append(cs,
		fixed("legacy default bucket", projectID+".appspot.com"),
		fixed("project bucket", projectID),
		Candidate{
			Source: "backend default bucket",
			Name: func(ctx context.Context) (string, error) {
				return DefaultBucket(ctx, s, projectID)
			},
		},
	)
}

func fixed(source, name string) Candidate {
	return Candidate{
		Source: source,
		Name:   func(context.Context) (string, error) { return name, nil },
	}
}

// DefaultBucket picks the project's default bucket from its bucket listing:
// {projectID}.firebasestorage.app, then any *.appspot.com bucket, then the
// only bucket if there is exactly one.
func DefaultBucket(ctx context.Context, s Session, projectID string) (string, error) {
	names, err := s.ProjectBuckets(ctx, projectID)
	if err != nil {
		return "", err
	}
	for _, n := range names {
		if n == projectID+".firebasestorage.app" {
			return n, nil
		}
	}
	for _, n := range names {
		if strings.HasSuffix(n, ".appspot.com") {
			return n, nil
		}
	}
	if len(names) == 1 {
		return names[0], nil
	}
	return "", fmt.Errorf("storage: project %q has %d buckets and none is a default bucket: %w", projectID, len(names), ErrBucketNotFound)
}

// Resolve evaluates candidates in order and returns the first bucket that
// exists. Each rejected candidate is reported to onMiss, which may be nil.
func Resolve(ctx context.Context, s Session, candidates []Candidate, onMiss func(Attempt)) (Bucket, error) {
	var errs []error
	for _, c := range candidates {
		b, err := try(ctx, s, c)
		if err == nil {
			return b, nil
		}

		a := Attempt{Source: c.Source, Err: err}
		if b != nil {
			a.Bucket = b.Name()
		}
		if onMiss != nil {
			onMiss(a)
		}
		errs = append(errs, fmt.Errorf("%s: %w", c.Source, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrNoBucket, errors.Join(errs...))
}

// try runs one candidate. The bucket handle is returned alongside an error so
// the caller can report which name was rejected.
func try(ctx context.Context, s Session, c Candidate) (b Bucket, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("storage: candidate panicked: %v", r)
		}
	}()

	name, err := c.Name(ctx)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("storage: empty bucket name: %w", ErrBucketNotFound)
	}
	b = s.Bucket(name)
	if err := b.Exists(ctx); err != nil {
		return b, err
	}
	return b, nil
}
