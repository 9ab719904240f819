// Package config builds the publish configuration from the process
// environment, an optional TOML defaults file and command-line overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/BurntSushi/toml"
)

// Environment variables read by FromEnv.
const (
	EnvProjectID      = "FIREBASE_PROJECT_ID"
	EnvServiceAccount = "FIREBASE_SERVICE_ACCOUNT_BASE64"
	EnvBuildID        = "BUILD_ID"
	EnvStorageBucket  = "FIREBASE_STORAGE_BUCKET"
	EnvGitHubEnv      = "GITHUB_ENV"
)

// PublishConfig is everything a publish run needs to know. It is built once
// per run and never mutated afterwards.
type PublishConfig struct {
	// ProjectID is optional; it is derived from the credential when empty.
	ProjectID string

	// CredentialBase64 is the base64 encoded service account key.
	CredentialBase64 string

	// BuildID namespaces the remote storage path.
	BuildID string

	// Bucket is an optional explicit bucket name. A gs:// prefix is tolerated.
	Bucket string

	// GitHubEnv is the path of the file results are appended to. Empty when
	// the run is not inside GitHub Actions.
	GitHubEnv string

	// GrantBucketIAM allows public read to be granted on the bucket when
	// object ACLs are disabled.
	GrantBucketIAM bool
}

// File is the on-disk TOML defaults file. Only non-secret settings may be
// stored in it.
type File struct {
	ProjectID      string `toml:"project_id"`       // Default project identifier.
	StorageBucket  string `toml:"storage_bucket"`   // Default bucket name.
	GrantBucketIAM bool   `toml:"grant_bucket_iam"` // Fall back to bucket IAM for public read.
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadFile decodes the TOML file at path. Unknown keys are rejected so that
// typos do not silently fall back to defaults.
func LoadFile(path string) (*File, error) {
	var f File
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("config: failed to decode %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config: unknown keys in %q: %s", path, strings.Join(keys, ", "))
	}
	return &f, nil
}

// FromEnv builds a PublishConfig from lookup, using defaults for any value
// the environment does not set. defaults may be nil.
func FromEnv(lookup LookupFunc, defaults *File) PublishConfig {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if defaults == nil {
		defaults = &File{}
	}

	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}

	return PublishConfig{
		ProjectID:        get(EnvProjectID, defaults.ProjectID),
		CredentialBase64: get(EnvServiceAccount, ""),
		BuildID:          get(EnvBuildID, ""),
		Bucket:           get(EnvStorageBucket, defaults.StorageBucket),
		GitHubEnv:        get(EnvGitHubEnv, ""),
		GrantBucketIAM:   defaults.GrantBucketIAM,
	}
}

// MissingError lists every required setting that was not supplied.
type MissingError struct {
	Fields []string
}

func (e *MissingError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Fields, ", ")
}

// Validate checks the required fields are present. All missing fields are
// reported together.
func (c PublishConfig) Validate() error {
	var missing []string
	if c.CredentialBase64 == "" {
		missing = append(missing, EnvServiceAccount)
	}
	if c.BuildID == "" {
		missing = append(missing, EnvBuildID)
	}
	if len(missing) > 0 {
		return &MissingError{Fields: missing}
	}
	if err := validBuildID(c.BuildID); err != nil {
		return err
	}
	return nil
}

// validBuildID rejects identifiers that would not stay a single path segment
// below builds/.
func validBuildID(id string) error {
	if id == "." || strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid %s %q: must be a single path segment", EnvBuildID, id)
	}
	if strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return fmt.Errorf("invalid %s %q: contains control characters", EnvBuildID, id)
	}
	return nil
}

// BuildPath is the remote prefix every artefact of this build is stored
// under.
func (c PublishConfig) BuildPath() string {
	return "builds/" + c.BuildID
}
