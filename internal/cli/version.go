package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewVersionCommand prints the build version.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pipeline-sync version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			version := rootOpts.Version
			if version == "" {
				version = "dev"
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "pipeline-sync %s\n", version)
			return err
		},
	}
}
