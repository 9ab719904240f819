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

type VerifyOptions struct {
	config config.PublishConfig

	PublishFlags

	iooption.IOStreams
}

var (
	verifyLong = templates.LongDesc(`
		Check that the service account key decodes, a bucket can be resolved
		and the key can write to it. Nothing is uploaded.`)

	verifyExample = templates.Examples(`
		# Verify the default bucket for the key's project
		publish verify --build-id 42

		# Verify an explicit bucket
		publish verify --build-id 42 --bucket gs://my-bucket`)
)

func NewVerifyOptions(streams iooption.IOStreams) *VerifyOptions {
	return &VerifyOptions{
		IOStreams: streams,
	}
}

func NewVerifyCommand(o *VerifyOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "verify",
		DisableFlagsInUseLine: true,
		Short:                 "Check bucket access without uploading",
		Long:                  verifyLong,
		Example:               verifyExample,
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

func (o *VerifyOptions) Complete(cmd *cobra.Command, args []string) error {
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

func (o *VerifyOptions) Validate() error {
	return nil
}

func (o *VerifyOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := &publish.Publisher{
		Out:  o.Out,
		Open: o.opener(),
	}
	bucket, err := p.Verify(ctx, o.config)
	if err != nil {
		reportError(o.Out, err)
		return err
	}

	fmt.Fprintf(o.Out, "Bucket %s is writable\n", bucket)
	return nil
}
