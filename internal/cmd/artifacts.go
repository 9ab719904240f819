package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/artifact-publisher/internal/config"
	"github.com/tomasbasham/artifact-publisher/internal/publish"
)

type ArtifactsOptions struct {
	config config.PublishConfig

	PublishFlags

	iooption.IOStreams
}

var (
	artifactsLong = templates.LongDesc(`
		Upload the release APK and app bundle to builds/$BUILD_ID/ in the
		project's storage bucket, make them public and append APK_URL, AAB_URL
		and BUILD_PATH to $GITHUB_ENV.

		The service account key is read from FIREBASE_SERVICE_ACCOUNT_BASE64.
		A missing artifact is skipped with a warning; the command fails only
		when neither exists.`)

	artifactsExample = templates.Examples(`
		# Publish using the environment set up by the CI job
		publish artifacts

		# Publish to an explicit bucket
		publish artifacts --build-id 42 --bucket gs://my-bucket

		# Dry run into a local directory containing a my-project directory
		publish artifacts --local-dir ./out --project-id my-project`)
)

func NewArtifactsOptions(streams iooption.IOStreams) *ArtifactsOptions {
	return &ArtifactsOptions{
		IOStreams: streams,
	}
}

func NewArtifactsCommand(o *ArtifactsOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "artifacts",
		DisableFlagsInUseLine: true,
		Short:                 "Upload build artifacts and export their URLs",
		Long:                  artifactsLong,
		Example:               artifactsExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			if err := o.Run(); err != nil {
				return err
			}
			return nil
		},
	}

	o.AddFlags(cmd.Flags())

	return cmd
}

func (o *ArtifactsOptions) Complete(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
	}
	cfg, err := o.PublishFlags.Complete(cmd)
	if err != nil {
		return err
	}
	o.config = cfg
	return nil
}

// Validate is a no-op. Missing inputs are reported together by the
// publisher.
func (o *ArtifactsOptions) Validate() error {
	return nil
}

func (o *ArtifactsOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(o.Out, "Publishing artifacts for build %s...\n", o.config.BuildID)
	p := &publish.Publisher{
		Out:  o.Out,
		Open: o.opener(),
	}
	results, err := p.Publish(ctx, o.config)
	if err != nil {
		reportError(o.Out, err)
		return err
	}

	fmt.Fprintf(o.Out, "Published %d artifact(s) to %s\n", len(results), results[0].RemotePathPrefix)
	return nil
}
