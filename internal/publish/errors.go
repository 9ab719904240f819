package publish

import (
	"strings"
)

// Kind classifies why a publish run failed.
type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindCredential
	KindNoArtifacts
	KindBucketResolution
	KindBucketAccess
	KindUpload
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration error"
	case KindCredential:
		return "credential error"
	case KindNoArtifacts:
		return "no artifacts"
	case KindBucketResolution:
		return "bucket resolution error"
	case KindBucketAccess:
		return "bucket access error"
	case KindUpload:
		return "upload error"
	default:
		return "unknown error"
	}
}

// Sentinels for use with errors.Is. Matching is by Kind only.
var (
	ErrConfiguration    = &Error{Kind: KindConfiguration}
	ErrCredential       = &Error{Kind: KindCredential}
	ErrNoArtifacts      = &Error{Kind: KindNoArtifacts}
	ErrBucketResolution = &Error{Kind: KindBucketResolution}
	ErrBucketAccess     = &Error{Kind: KindBucketAccess}
	ErrUpload           = &Error{Kind: KindUpload}
)

// Error is a fatal publish failure.
type Error struct {
	Kind Kind

	// Message is a one line description of what went wrong.
	Message string

	// Err is the underlying error, if any.
	Err error

	// Missing lists the names of required inputs that were not supplied.
	Missing []string

	// Suggestion is remediation guidance for the user.
	Suggestion string
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

const bucketSuggestion = `Check that Cloud Storage is enabled for the project:
  - Open the Firebase console and select the project
  - Go to Storage and click "Get started" to create the default bucket
  - Or set FIREBASE_STORAGE_BUCKET to the name of an existing bucket`

const accessSuggestion = `Check that the service account can write to the bucket:
  - Grant it the "Storage Object Admin" role on the bucket
  - Make sure the key in FIREBASE_SERVICE_ACCOUNT_BASE64 has not been revoked`

const buildSuggestion = `Build the release outputs before publishing:
  - flutter build apk --release
  - flutter build appbundle --release`
