package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tomasbasham/artifact-publisher/internal/config"
	"github.com/tomasbasham/artifact-publisher/internal/publish"
)

// PublishFlags are the settings shared by every command that talks to the
// bucket. Each flag overrides the matching environment variable.
type PublishFlags struct {
	ConfigFile     string
	ProjectID      string
	BuildID        string
	Bucket         string
	GitHubEnv      string
	LocalDir       string
	GrantBucketIAM bool

	grantBucketIAMSet bool
	lookup            config.LookupFunc
}

// AddFlags registers the flags on fs.
func (f *PublishFlags) AddFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&f.ConfigFile, "config", "c", "", "TOML file with default settings")
	fs.StringVar(&f.ProjectID, "project-id", "", "Project identifier (default: $"+config.EnvProjectID+" or the key's project_id)")
	fs.StringVar(&f.BuildID, "build-id", "", "Build identifier (default: $"+config.EnvBuildID+")")
	fs.StringVarP(&f.Bucket, "bucket", "b", "", "Storage bucket name (default: $"+config.EnvStorageBucket+")")
	fs.StringVar(&f.GitHubEnv, "github-env", "", "File results are appended to (default: $"+config.EnvGitHubEnv+")")
	fs.StringVar(&f.LocalDir, "local-dir", "", "Publish into a local directory instead of Cloud Storage")
	fs.BoolVar(&f.GrantBucketIAM, "grant-bucket-iam", false, "Grant public read on the bucket through IAM if object ACLs are disabled")
}

// Complete merges the config file, environment and flags.
func (f *PublishFlags) Complete(cmd *cobra.Command) (config.PublishConfig, error) {
	var defaults *config.File
	if f.ConfigFile != "" {
		file, err := config.LoadFile(f.ConfigFile)
		if err != nil {
			return config.PublishConfig{}, err
		}
		defaults = file
	}

	lookup := f.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := config.FromEnv(lookup, defaults)

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.ProjectID, f.ProjectID)
	override(&cfg.BuildID, f.BuildID)
	override(&cfg.Bucket, f.Bucket)
	override(&cfg.GitHubEnv, f.GitHubEnv)

	f.grantBucketIAMSet = cmd.Flags().Changed("grant-bucket-iam")
	if f.grantBucketIAMSet {
		cfg.GrantBucketIAM = f.GrantBucketIAM
	}
	return cfg, nil
}

func (f *PublishFlags) opener() publish.Opener {
	if f.LocalDir != "" {
		return publish.LocalOpener(f.LocalDir)
	}
	return publish.GCSOpener
}

// reportError prints the missing inputs and remediation guidance for a
// failed run. The error line itself is printed by cliruntime.Run.
func reportError(w io.Writer, err error) {
	var perr *publish.Error
	if !errors.As(err, &perr) {
		return
	}
	if len(perr.Missing) > 0 {
		fmt.Fprintln(w, "Missing:")
		for _, m := range perr.Missing {
			fmt.Fprintf(w, "  - %s\n", m)
		}
	}
	if perr.Suggestion != "" {
		fmt.Fprintf(w, "\n%s\n", perr.Suggestion)
	}
}
