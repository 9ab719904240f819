// Package publish uploads build artefacts to object storage, makes them
// public and exports their URLs to the CI job.
//
// A run is a forward-only pipeline:
//
//	validate → decode credential → check artifacts → write key file →
//	resolve bucket → probe → upload each artifact → export URLs
//
// The temporary key file is removed on every exit path.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/h2non/filetype"

	"github.com/tomasbasham/artifact-publisher/internal/config"
	"github.com/tomasbasham/artifact-publisher/internal/credential"
	"github.com/tomasbasham/artifact-publisher/internal/githubenv"
	"github.com/tomasbasham/artifact-publisher/internal/storage"
)

// Opener opens a storage session authenticated with the key file at
// credentialsFile.
type Opener func(ctx context.Context, credentialsFile string, cfg config.PublishConfig) (storage.Session, error)

// GCSOpener opens a session against Google Cloud Storage.
func GCSOpener(ctx context.Context, credentialsFile string, cfg config.PublishConfig) (storage.Session, error) {
	return storage.NewGCSSession(ctx, storage.GCSOptions{
		CredentialsFile: credentialsFile,
		GrantBucketIAM:  cfg.GrantBucketIAM,
	})
}

// LocalOpener returns an Opener that stores objects under dir.
func LocalOpener(dir string) Opener {
	return func(context.Context, string, config.PublishConfig) (storage.Session, error) {
		return storage.NewLocalSession(dir)
	}
}

// Publisher runs the publish pipeline.
type Publisher struct {
	// Out receives progress and warning lines.
	Out io.Writer

	// Root is the directory artifact paths are relative to. Empty means the
	// working directory.
	Root string

	// KeyDir is where the temporary key file is written. Empty means
	// os.TempDir().
	KeyDir string

	// Artifacts defaults to DefaultArtifacts.
	Artifacts []Artifact

	Open Opener
}

// run carries the state derived from the configuration before any network
// call is made.
type run struct {
	cfg       config.PublishConfig
	cred      *credential.ServiceCredential
	projectID string
}

// Publish uploads every artifact that exists and exports its URL. At least
// one artifact must be present. Any returned error is a *Error.
func (p *Publisher) Publish(ctx context.Context, cfg config.PublishConfig) ([]Result, error) {
	r, err := p.prepare(cfg)
	if err != nil {
		return nil, err
	}

	present := p.present()
	if len(present) == 0 {
		return nil, &Error{
			Kind:       KindNoArtifacts,
			Message:    "no build artifacts found",
			Suggestion: buildSuggestion,
		}
	}

	var results []Result
	err = p.withBucket(ctx, r, func(b storage.Bucket) error {
		env := githubenv.New(cfg.GitHubEnv)
		warned := false
		export := func(key, value string) {
			err := env.Set(key, value)
			switch {
			case err == nil:
			case errors.Is(err, githubenv.ErrUnavailable):
				if !warned {
					fmt.Fprintf(p.Out, "Warning: %s is not set; results will not be exported\n", config.EnvGitHubEnv)
					warned = true
				}
			default:
				fmt.Fprintf(p.Out, "Warning: %v\n", err)
			}
		}

		for _, a := range present {
			res, err := p.upload(ctx, b, cfg.BuildPath(), a)
			if err != nil {
				return err
			}
			results = append(results, *res)

			fmt.Fprintf(p.Out, "%s uploaded to: %s\n", a.Name, res.PublicURL)
			export(a.URLKey, res.PublicURL)
			if a.ExportBuildPath {
				export(BuildPathKey, res.RemotePathPrefix)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Verify runs every step up to and including the bucket probe without
// uploading anything. It returns the resolved bucket name.
func (p *Publisher) Verify(ctx context.Context, cfg config.PublishConfig) (string, error) {
	r, err := p.prepare(cfg)
	if err != nil {
		return "", err
	}
	var name string
	err = p.withBucket(ctx, r, func(b storage.Bucket) error {
		name = b.Name()
		return nil
	})
	return name, err
}

func (p *Publisher) prepare(cfg config.PublishConfig) (*run, error) {
	if p.Out == nil {
		p.Out = io.Discard
	}

	if err := cfg.Validate(); err != nil {
		var missing *config.MissingError
		if errors.As(err, &missing) {
			return nil, &Error{Kind: KindConfiguration, Err: err, Missing: missing.Fields}
		}
		return nil, newError(KindConfiguration, "", err)
	}

	cred, err := credential.Decode(cfg.CredentialBase64)
	if err != nil {
		return nil, newError(KindCredential, "failed to decode "+config.EnvServiceAccount, err)
	}

	projectID := cfg.ProjectID
	if projectID == "" {
		projectID = cred.ProjectID
	}
	if projectID == "" {
		return nil, &Error{
			Kind:    KindConfiguration,
			Message: "project ID not set and not present in the service account key",
			Missing: []string{config.EnvProjectID},
		}
	}

	return &run{cfg: cfg, cred: cred, projectID: projectID}, nil
}

// present returns the artifacts found on disk, warning about the rest.
func (p *Publisher) present() []Artifact {
	artifacts := p.Artifacts
	if artifacts == nil {
		artifacts = DefaultArtifacts
	}

	var found []Artifact
	for _, a := range artifacts {
		info, err := os.Stat(p.localPath(a))
		switch {
		case err == nil && info.Mode().IsRegular():
			found = append(found, a)
		case err == nil || errors.Is(err, fs.ErrNotExist):
			fmt.Fprintf(p.Out, "Warning: %s file not found at %s\n", a.Name, a.LocalPath)
		default:
			fmt.Fprintf(p.Out, "Warning: %s file at %s is unreadable: %v\n", a.Name, a.LocalPath, err)
		}
	}
	return found
}

// withBucket writes the key file, opens a session, resolves and probes the
// bucket, then calls fn. The key file and session are released before
// withBucket returns, whatever the outcome.
func (p *Publisher) withBucket(ctx context.Context, r *run, fn func(storage.Bucket) error) error {
	key, err := credential.Persist(p.KeyDir, r.cred)
	if err != nil {
		return newError(KindCredential, "failed to store service account key", err)
	}
	defer func() {
		if err := key.Release(); err != nil {
			fmt.Fprintf(p.Out, "Warning: %v\n", err)
		}
	}()

	open := p.Open
	if open == nil {
		open = GCSOpener
	}
	session, err := open(ctx, key.Path(), r.cfg)
	if err != nil {
		return newError(KindCredential, "failed to open storage session", err)
	}
	defer session.Close()

	candidates := storage.Candidates(session, r.cfg.Bucket, r.projectID)
	bucket, err := storage.Resolve(ctx, session, candidates, func(a storage.Attempt) {
		if a.Bucket != "" {
			fmt.Fprintf(p.Out, "Bucket %s (%s) unavailable: %v\n", a.Bucket, a.Source, a.Err)
			return
		}
		fmt.Fprintf(p.Out, "No bucket from %s: %v\n", a.Source, a.Err)
	})
	if err != nil {
		return &Error{
			Kind:       KindBucketResolution,
			Message:    "could not find a storage bucket for project " + r.projectID,
			Err:        err,
			Suggestion: bucketSuggestion,
		}
	}
	fmt.Fprintf(p.Out, "Using bucket: %s\n", bucket.Name())

	if err := bucket.Probe(ctx); err != nil {
		e := newError(KindBucketAccess, "cannot write to bucket "+bucket.Name(), err)
		switch {
		case errors.Is(err, storage.ErrBucketNotFound):
			e.Suggestion = bucketSuggestion
		case errors.Is(err, storage.ErrAccessDenied):
			e.Suggestion = accessSuggestion
		}
		return e
	}

	return fn(bucket)
}

func (p *Publisher) upload(ctx context.Context, b storage.Bucket, buildPath string, a Artifact) (*Result, error) {
	local := p.localPath(a)
	if kind, err := filetype.MatchFile(local); err == nil && kind.Extension != "zip" {
		fmt.Fprintf(p.Out, "Warning: %s file %s does not look like a zip archive\n", a.Name, a.LocalPath)
	}

	f, err := os.Open(local)
	if err != nil {
		return nil, newError(KindUpload, "failed to open "+a.LocalPath, err)
	}
	defer f.Close()

	objectName := buildPath + "/" + a.RemoteFileName
	if _, err := b.Upload(ctx, &storage.UploadRequest{
		ObjectName:  objectName,
		Content:     f,
		ContentType: a.ContentType,
	}); err != nil {
		return nil, newError(KindUpload, "failed to upload "+a.Name, err)
	}
	if err := b.MakePublic(ctx, objectName); err != nil {
		return nil, newError(KindUpload, "failed to make "+a.Name+" public", err)
	}

	return &Result{
		Artifact:         a.Name,
		ObjectName:       objectName,
		PublicURL:        b.PublicURL(objectName),
		RemotePathPrefix: buildPath,
	}, nil
}

func (p *Publisher) localPath(a Artifact) string {
	return filepath.Join(p.Root, filepath.FromSlash(a.LocalPath))
}
