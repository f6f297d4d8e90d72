package cli

import (
	"github.com/spf13/cobra"
)

// NewGcCommand creates the gc command.
func NewGcCommand(opts *RootOptions) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Prune old history records",
		Long: "Removes the oldest operation records beyond the kept count. Pruned\n" +
			"operations can no longer be undone; staged content and the\n" +
			"obliteration audit log are never pruned.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep < 0 {
				return NewExitError(ExitCommandError, "--keep must be non-negative")
			}

			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()

			removed, err := w.Store.PruneOperations(cmdContext(), keep)
			if err != nil {
				return err
			}
			return formatter(cmd, opts).Success(map[string]any{
				"removed": removed,
				"kept":    keep,
			})
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 1000, "number of most recent operations to keep")
	return cmd
}
