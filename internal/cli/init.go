package cli

import (
	"github.com/spf13/cobra"
)

// NewInitCommand creates the init command.
func NewInitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a managed root",
		Long:  "Creates the engine-private metadata subtree (.januskey/) and its database under the managed root.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := initRoot(opts)
			if err != nil {
				return err
			}
			f := formatter(cmd, opts)
			return f.Success(map[string]any{
				"root":        root,
				"initialized": true,
			})
		},
	}
}

// formatter builds the output formatter for a command invocation.
func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
