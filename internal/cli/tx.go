package cli

import (
	"github.com/spf13/cobra"

	"github.com/hyperpolymath/januskey/internal/engine"
)

// engineNotFound reports a NOT_FOUND error from the engine.
func engineNotFound(err error) bool {
	return engine.IsNotFound(err)
}

// NewBeginCommand creates the begin command.
func NewBeginCommand(opts *RootOptions) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "begin",
		Short: "Begin a transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()

			txn, err := w.Engine.Begin(cmdContext(), name)
			if err != nil {
				return err
			}
			return formatter(cmd, opts).Success(map[string]any{
				"transaction_id": txn.ID,
				"name":           txn.Name,
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "human-readable transaction name")
	return cmd
}

// NewCommitCommand creates the commit command.
func NewCommitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "commit",
		Short: "Commit the active transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()

			txn, err := w.Engine.Commit(cmdContext())
			if err != nil {
				return err
			}
			return formatter(cmd, opts).Success(map[string]any{
				"transaction_id": txn.ID,
				"state":          txn.State,
				"operations":     len(txn.OperationIDs),
			})
		},
	}
}

// NewRollbackCommand creates the rollback command.
func NewRollbackCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Roll back the active transaction",
		Long:  "Undoes every operation of the active transaction in reverse application order, then closes it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()

			txn, err := w.Engine.Rollback(cmdContext())
			if err != nil {
				return err
			}
			return formatter(cmd, opts).Success(map[string]any{
				"transaction_id": txn.ID,
				"state":          txn.State,
				"operations":     len(txn.OperationIDs),
			})
		},
	}
}

// NewPreviewCommand creates the preview command.
func NewPreviewCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "preview",
		Short: "Preview the active transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()

			preview, err := w.Engine.Preview(cmdContext())
			if err != nil {
				return err
			}
			return formatter(cmd, opts).Success(preview)
		},
	}
}
