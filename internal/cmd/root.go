package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cliflag "github.com/tomasbasham/cli-runtime/flag"
	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/printer"
	"github.com/tomasbasham/cli-runtime/templates"
)

var (
	rootLong = templates.LongDesc(`
		Publish mobile build artifacts to Cloud Storage and export their public
		URLs to the CI job.`)

	rootExamples = templates.Examples(`
		# Upload the release APK and app bundle for build 42
		BUILD_ID=42 FIREBASE_SERVICE_ACCOUNT_BASE64=... publish artifacts

		# Check the bucket is reachable without uploading anything
		publish verify --bucket gs://my-bucket`)

	// Injected at build time using ldflags.
	version = ""
	commit  = ""
)

// RootOptions defines the options for the `publish` command.
type RootOptions struct {
	iooption.IOStreams
}

// NewRootOptions provides an initialised RootOptions instance.
func NewRootOptions(streams iooption.IOStreams) *RootOptions {
	return &RootOptions{
		IOStreams: streams,
	}
}

// NewRootCommand creates the `publish` command with default arguments.
func NewRootCommand() *cobra.Command {
	options := NewRootOptions(iooption.IOStreams{
		In:     os.Stdin,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	})

	return NewRootCommandWithArgs(options)
}

// NewRootCommandWithArgs creates the `publish` command and its nested
// children.
func NewRootCommandWithArgs(o *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "publish [command]",
		Version:               versionInfo(),
		DisableFlagsInUseLine: true,
		Short:                 "Build artifact publishing tool",
		Long:                  rootLong,
		Example:               rootExamples,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}

	printerOpts := printer.WarningPrinterOptions{Color: true}
	printer := printer.NewWarningPrinter(o.ErrOut, printerOpts)
	cmd.SetGlobalNormalizationFunc(cliflag.WarnWordSepNormalizeFunc(printer))

	cmd.AddCommand(NewArtifactsCommand(NewArtifactsOptions(o.IOStreams)))
	cmd.AddCommand(NewVerifyCommand(NewVerifyOptions(o.IOStreams)))

	// The globlal normalisation function ensures that all flags specified meet
	// the desired format, changing users' input if necessary.
	cmd.SetGlobalNormalizationFunc(cliflag.WordSepNormalizeFunc())

	return cmd
}

func versionInfo() string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s (commit: %s)", version, commit)
}
