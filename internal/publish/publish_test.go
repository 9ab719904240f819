package publish

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tomasbasham/artifact-publisher/internal/config"
	"github.com/tomasbasham/artifact-publisher/internal/credential"
	"github.com/tomasbasham/artifact-publisher/internal/storage"
)

var zipHeader = []byte("PK\x03\x04\x14\x00\x00\x00\x08\x00")

func encodeKey(t *testing.T, json string) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString([]byte(json))
}

type fixture struct {
	root    string
	keyDir  string
	buckets string
	envFile string
	out     *bytes.Buffer
	opened  int
}

func newFixture(t *testing.T, buckets ...string) *fixture {
	t.Helper()
	f := &fixture{
		root:    t.TempDir(),
		keyDir:  t.TempDir(),
		buckets: t.TempDir(),
		out:     &bytes.Buffer{},
	}
	f.envFile = filepath.Join(t.TempDir(), "github_env")
	for _, b := range buckets {
		require.NoError(t, os.MkdirAll(filepath.Join(f.buckets, b), 0o755))
	}
	return f
}

func (f *fixture) writeArtifact(t *testing.T, a Artifact) {
	t.Helper()
	p := filepath.Join(f.root, filepath.FromSlash(a.LocalPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, append(zipHeader, []byte(a.Name)...), 0o644))
}

func (f *fixture) publisher() *Publisher {
	local := LocalOpener(f.buckets)
	return &Publisher{
		Out:    f.out,
		Root:   f.root,
		KeyDir: f.keyDir,
		Open: func(ctx context.Context, credentialsFile string, cfg config.PublishConfig) (storage.Session, error) {
			f.opened++
			return local(ctx, credentialsFile, cfg)
		},
	}
}

func (f *fixture) config(t *testing.T) config.PublishConfig {
	return config.PublishConfig{
		CredentialBase64: encodeKey(t, `{"project_id":"demo","client_email":"ci@demo.iam.gserviceaccount.com"}`),
		BuildID:          "42",
		GitHubEnv:        f.envFile,
	}
}

func (f *fixture) assertNoKeyFile(t *testing.T) {
	t.Helper()
	assert.NoFileExists(t, filepath.Join(f.keyDir, credential.DefaultFileName))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestPublishBothArtifacts(t *testing.T) {
	f := newFixture(t, "demo.appspot.com")
	f.writeArtifact(t, DefaultArtifacts[0])
	f.writeArtifact(t, DefaultArtifacts[1])

	results, err := f.publisher().Publish(context.Background(), f.config(t))
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "APK", results[0].Artifact)
	assert.Equal(t, "builds/42/app.apk", results[0].ObjectName)
	assert.Equal(t, "builds/42/app.aab", results[1].ObjectName)

	lines := readLines(t, f.envFile)
	require.Len(t, lines, 3)
	assert.Equal(t, "APK_URL="+results[0].PublicURL, lines[0])
	assert.Equal(t, "AAB_URL="+results[1].PublicURL, lines[1])
	assert.Equal(t, "BUILD_PATH=builds/42", lines[2])

	uploaded, err := os.ReadFile(filepath.Join(f.buckets, "demo.appspot.com", "builds", "42", "app.apk"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(uploaded, zipHeader))

	assert.Contains(t, f.out.String(), "Using bucket: demo.appspot.com")
	assert.Contains(t, f.out.String(), "APK uploaded to: ")
	f.assertNoKeyFile(t)
}

func TestPublishOnlyBundle(t *testing.T) {
	f := newFixture(t, "demo.appspot.com")
	f.writeArtifact(t, DefaultArtifacts[1])

	results, err := f.publisher().Publish(context.Background(), f.config(t))
	require.NoError(t, err)
	require.Len(t, results, 1)

	lines := readLines(t, f.envFile)
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "AAB_URL="))
	assert.Equal(t, "BUILD_PATH=builds/42", lines[1])
	assert.NotContains(t, strings.Join(lines, "\n"), "APK_URL")
	assert.Contains(t, f.out.String(), "Warning: APK file not found")
	f.assertNoKeyFile(t)
}

func TestPublishExplicitBucketWithScheme(t *testing.T) {
	f := newFixture(t, "demo.appspot.com", "my-bucket")
	f.writeArtifact(t, DefaultArtifacts[0])

	cfg := f.config(t)
	cfg.Bucket = "gs://my-bucket"
	results, err := f.publisher().Publish(context.Background(), cfg)
	require.NoError(t, err)
	assert.Contains(t, results[0].PublicURL, "/my-bucket/builds/42/app.apk")
}

func TestPublishWithoutGitHubEnv(t *testing.T) {
	f := newFixture(t, "demo")
	f.writeArtifact(t, DefaultArtifacts[0])

	cfg := f.config(t)
	cfg.GitHubEnv = ""
	results, err := f.publisher().Publish(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Contains(t, f.out.String(), "GITHUB_ENV is not set")
	assert.NoFileExists(t, f.envFile)
}

func TestPublishMissingConfiguration(t *testing.T) {
	f := newFixture(t)

	_, err := f.publisher().Publish(context.Background(), config.PublishConfig{})
	require.ErrorIs(t, err, ErrConfiguration)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []string{config.EnvServiceAccount, config.EnvBuildID}, perr.Missing)
	assert.Zero(t, f.opened)
}

func TestPublishInvalidCredential(t *testing.T) {
	f := newFixture(t)
	f.writeArtifact(t, DefaultArtifacts[0])

	cfg := f.config(t)
	cfg.CredentialBase64 = "%%% not base64 %%%"
	_, err := f.publisher().Publish(context.Background(), cfg)
	require.ErrorIs(t, err, ErrCredential)
	assert.ErrorIs(t, err, credential.ErrMalformed)
	f.assertNoKeyFile(t)
	assert.Zero(t, f.opened)
}

func TestPublishProjectIDUnresolvable(t *testing.T) {
	f := newFixture(t)
	f.writeArtifact(t, DefaultArtifacts[0])

	cfg := f.config(t)
	cfg.CredentialBase64 = encodeKey(t, `{"client_email":"ci@demo.iam.gserviceaccount.com"}`)
	_, err := f.publisher().Publish(context.Background(), cfg)
	require.ErrorIs(t, err, ErrConfiguration)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []string{config.EnvProjectID}, perr.Missing)
}

func TestPublishExplicitProjectID(t *testing.T) {
	f := newFixture(t, "explicit.appspot.com")
	f.writeArtifact(t, DefaultArtifacts[0])

	cfg := f.config(t)
	cfg.ProjectID = "explicit"
	cfg.CredentialBase64 = encodeKey(t, `{"client_email":"ci@demo.iam.gserviceaccount.com"}`)
	results, err := f.publisher().Publish(context.Background(), cfg)
	require.NoError(t, err)
	assert.Contains(t, results[0].PublicURL, "/explicit.appspot.com/")
}

func TestPublishNoArtifacts(t *testing.T) {
	f := newFixture(t, "demo.appspot.com")

	_, err := f.publisher().Publish(context.Background(), f.config(t))
	require.ErrorIs(t, err, ErrNoArtifacts)
	assert.Zero(t, f.opened)
	f.assertNoKeyFile(t)
	assert.NoFileExists(t, f.envFile)
}

func TestPublishBucketResolutionFails(t *testing.T) {
	f := newFixture(t, "unrelated-a", "unrelated-b")
	f.writeArtifact(t, DefaultArtifacts[0])

	_, err := f.publisher().Publish(context.Background(), f.config(t))
	require.ErrorIs(t, err, ErrBucketResolution)
	assert.ErrorIs(t, err, storage.ErrNoBucket)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.NotEmpty(t, perr.Suggestion)
	f.assertNoKeyFile(t)
	assert.NoFileExists(t, f.envFile)
}

func TestPublishWarnsOnNonZipArtifact(t *testing.T) {
	f := newFixture(t, "demo.appspot.com")
	a := DefaultArtifacts[0]
	p := filepath.Join(f.root, filepath.FromSlash(a.LocalPath))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("plain text, not an archive"), 0o644))

	_, err := f.publisher().Publish(context.Background(), f.config(t))
	require.NoError(t, err)
	assert.Contains(t, f.out.String(), "does not look like a zip archive")
}

func TestVerify(t *testing.T) {
	f := newFixture(t, "demo")

	name, err := f.publisher().Verify(context.Background(), f.config(t))
	require.NoError(t, err)
	assert.Equal(t, "demo", name)
	assert.Equal(t, 1, f.opened)
	f.assertNoKeyFile(t)
}

// mockSession and mockBucket inject failures the local backend cannot
// produce.
type mockSession struct {
	mock.Mock
}

func (m *mockSession) Bucket(name string) storage.Bucket {
	args := m.Called(name)
	return args.Get(0).(storage.Bucket)
}

func (m *mockSession) ProjectBuckets(ctx context.Context, projectID string) ([]string, error) {
	args := m.Called(ctx, projectID)
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockSession) Close() error {
	return m.Called().Error(0)
}

type mockBucket struct {
	mock.Mock
	name string
}

func (m *mockBucket) Name() string { return m.name }

func (m *mockBucket) Exists(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockBucket) Probe(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockBucket) Upload(ctx context.Context, req *storage.UploadRequest) (*storage.UploadResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*storage.UploadResult)
	return res, args.Error(1)
}

func (m *mockBucket) MakePublic(ctx context.Context, objectName string) error {
	return m.Called(ctx, objectName).Error(0)
}

func (m *mockBucket) PublicURL(objectName string) string {
	return "https://storage.example.com/" + m.name + "/" + objectName
}

func mockPublisher(f *fixture, s *mockSession) *Publisher {
	p := f.publisher()
	p.Open = func(context.Context, string, config.PublishConfig) (storage.Session, error) {
		f.opened++
		return s, nil
	}
	return p
}

func TestPublishUploadFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.writeArtifact(t, DefaultArtifacts[0])
	f.writeArtifact(t, DefaultArtifacts[1])

	b := &mockBucket{name: "demo.appspot.com"}
	b.On("Exists", mock.Anything).Return(nil)
	b.On("Probe", mock.Anything).Return(nil)
	b.On("Upload", mock.Anything, mock.MatchedBy(func(r *storage.UploadRequest) bool {
		return r.ObjectName == "builds/42/app.apk"
	})).Return(nil, errors.New("connection reset"))

	s := &mockSession{}
	s.On("Bucket", "demo.appspot.com").Return(b)
	s.On("Close").Return(nil)

	_, err := mockPublisher(f, s).Publish(context.Background(), f.config(t))
	require.ErrorIs(t, err, ErrUpload)
	assert.Contains(t, err.Error(), "connection reset")

	b.AssertNumberOfCalls(t, "Upload", 1)
	b.AssertNotCalled(t, "MakePublic", mock.Anything, mock.Anything)
	s.AssertCalled(t, "Close")
	f.assertNoKeyFile(t)
	assert.NoFileExists(t, f.envFile)
}

func TestPublishMakePublicFailure(t *testing.T) {
	f := newFixture(t)
	f.writeArtifact(t, DefaultArtifacts[1])

	b := &mockBucket{name: "demo.appspot.com"}
	b.On("Exists", mock.Anything).Return(nil)
	b.On("Probe", mock.Anything).Return(nil)
	b.On("Upload", mock.Anything, mock.Anything).Return(&storage.UploadResult{ObjectName: "builds/42/app.aab"}, nil)
	b.On("MakePublic", mock.Anything, "builds/42/app.aab").Return(storage.ErrAccessDenied)

	s := &mockSession{}
	s.On("Bucket", "demo.appspot.com").Return(b)
	s.On("Close").Return(nil)

	_, err := mockPublisher(f, s).Publish(context.Background(), f.config(t))
	require.ErrorIs(t, err, ErrUpload)
	assert.ErrorIs(t, err, storage.ErrAccessDenied)
	f.assertNoKeyFile(t)
}

func TestPublishProbeFailure(t *testing.T) {
	f := newFixture(t)
	f.writeArtifact(t, DefaultArtifacts[0])

	b := &mockBucket{name: "demo.appspot.com"}
	b.On("Exists", mock.Anything).Return(nil)
	b.On("Probe", mock.Anything).Return(storage.ErrAccessDenied)

	s := &mockSession{}
	s.On("Bucket", "demo.appspot.com").Return(b)
	s.On("Close").Return(nil)

	_, err := mockPublisher(f, s).Publish(context.Background(), f.config(t))
	require.ErrorIs(t, err, ErrBucketAccess)

	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, accessSuggestion, perr.Suggestion)
	b.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything)
	f.assertNoKeyFile(t)
}

func TestPublishKeyFileExistsDuringUpload(t *testing.T) {
	f := newFixture(t)
	f.writeArtifact(t, DefaultArtifacts[0])
	keyPath := filepath.Join(f.keyDir, credential.DefaultFileName)

	b := &mockBucket{name: "demo.appspot.com"}
	b.On("Exists", mock.Anything).Return(nil)
	b.On("Probe", mock.Anything).Return(nil)
	b.On("Upload", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		assert.FileExists(t, keyPath)
	}).Return(&storage.UploadResult{}, nil)
	b.On("MakePublic", mock.Anything, mock.Anything).Return(nil)

	s := &mockSession{}
	s.On("Bucket", "demo.appspot.com").Return(b)
	s.On("Close").Return(nil)

	_, err := mockPublisher(f, s).Publish(context.Background(), f.config(t))
	require.NoError(t, err)
	assert.NoFileExists(t, keyPath)
}

func TestPublishRejectsTraversingBuildID(t *testing.T) {
	f := newFixture(t, "demo.appspot.com")
	f.writeArtifact(t, DefaultArtifacts[0])

	cfg := f.config(t)
	cfg.BuildID = "../../../escaped"
	_, err := f.publisher().Publish(context.Background(), cfg)
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Zero(t, f.opened)
	f.assertNoKeyFile(t)

	entries, err := os.ReadDir(filepath.Dir(f.buckets))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "escaped", e.Name())
	}
}

func TestPublishObjectNameMatchesExportedPath(t *testing.T) {
	f := newFixture(t, "demo.appspot.com")
	f.writeArtifact(t, DefaultArtifacts[1])

	results, err := f.publisher().Publish(context.Background(), f.config(t))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, results[0].RemotePathPrefix+"/app.aab", results[0].ObjectName)
}
