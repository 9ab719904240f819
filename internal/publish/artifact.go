package publish

// Artifact is a build output published by every run. The set is fixed; see
// DefaultArtifacts.
type Artifact struct {
	// Name is used in progress output.
	Name string

	// LocalPath is relative to the publisher's root directory.
	LocalPath string

	// RemoteFileName is the object name below the build path.
	RemoteFileName string

	ContentType string

	// URLKey is the variable the public URL is exported as.
	URLKey string

	// ExportBuildPath also exports BUILD_PATH once this artifact is published.
	ExportBuildPath bool
}

// BuildPathKey is the variable the remote build prefix is exported as.
const BuildPathKey = "BUILD_PATH"

// DefaultArtifacts are the Flutter release outputs. The APK comes first so
// its variable is written before the bundle's.
var DefaultArtifacts = []Artifact{
	{
		Name:           "APK",
		LocalPath:      "build/app/outputs/flutter-apk/app-release.apk",
		RemoteFileName: "app.apk",
		ContentType:    "application/vnd.android.package-archive",
		URLKey:         "APK_URL",
	},
	{
		Name:            "AAB",
		LocalPath:       "build/app/outputs/bundle/release/app-release.aab",
		RemoteFileName:  "app.aab",
		ContentType:     "application/octet-stream",
		URLKey:          "AAB_URL",
		ExportBuildPath: true,
	},
}

// Result describes one published artifact.
type Result struct {
	Artifact   string
	ObjectName string
	PublicURL  string

	// RemotePathPrefix is builds/{buildID}.
	RemotePathPrefix string
}
