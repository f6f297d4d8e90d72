package cli

import (
	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show managed-root status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()
			ctx := cmdContext()

			opCount, err := w.Store.CountOperations(ctx)
			if err != nil {
				return err
			}
			blobCount, err := w.Engine.Blobs().Count(ctx)
			if err != nil {
				return err
			}
			oblCount := 0
			if records, err := w.Obl.History(ctx, 0); err == nil {
				oblCount = len(records)
			}
			lastApplied, err := w.Store.LastApplied(ctx)
			if err != nil {
				return err
			}

			status := map[string]any{
				"root":          w.Root,
				"operations":    opCount,
				"stored_blobs":  blobCount,
				"obliterations": oblCount,
				"last_applied":  lastApplied,
			}
			if txn, ok, err := w.Engine.ActiveTransaction(ctx); err == nil && ok {
				status["active_transaction"] = txn.ID
				if txn.Name != "" {
					status["active_transaction_name"] = txn.Name
				}
			}

			return formatter(cmd, opts).Success(status)
		},
	}
}
