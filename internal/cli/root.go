// Package cli exposes the sync engine as the pipeline-sync command.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nf-core/pipeline-sync/internal/app"
	"github.com/nf-core/pipeline-sync/internal/sync"
)

// RootOptions holds flags shared by every command.
type RootOptions struct {
	Version   string
	LogLevel  string
	LogFormat string
	Verbose   bool

	// newRunner builds the sync runner. Tests replace it.
	newRunner func(app.Config) (Runner, error)
}

// NewRootCommand creates the root command. version is the build version
// reported by the version subcommand.
func NewRootCommand(version string) *cobra.Command {
	return newRootCommand(&RootOptions{Version: version})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	if opts.newRunner == nil {
		opts.newRunner = func(cfg app.Config) (Runner, error) {
			return app.NewRunner(cfg)
		}
	}

	cmd := &cobra.Command{
		Use:   "pipeline-sync",
		Short: "Keep a pipeline repository in step with its template",
		Long: `Render the pipeline template from the pipeline's own config onto a
dedicated template branch, then publish a merge branch and open a pull
request so maintainers can merge the template changes.

Older sync pull requests into the same base branch are closed with a
comment pointing at the new one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error), overrides SYNC_LOG_LEVEL")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json), overrides SYNC_LOG_FORMAT")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// FormatError renders a failed run as a single line naming its kind.
func FormatError(err error) string {
	return fmt.Sprintf("pipeline-sync: %s: %v", sync.Kind(err), err)
}
