package cli

import (
	"github.com/spf13/cobra"

	"github.com/hyperpolymath/januskey/internal/model"
)

// NewUndoCommand creates the undo command.
func NewUndoCommand(opts *RootOptions) *cobra.Command {
	var count int
	var id string

	cmd := &cobra.Command{
		Use:   "undo",
		Short: "Undo recent operations",
		Long:  "Undoes the most recent operations in reverse order, or a specific operation by id.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()
			ctx := cmdContext()

			var undone []model.OperationRecord
			if id != "" {
				inv, err := w.Engine.UndoByID(ctx, id)
				if err != nil {
					return err
				}
				undone = append(undone, inv)
			} else {
				for i := 0; i < count; i++ {
					inv, err := w.Engine.UndoLast(ctx)
					if err != nil {
						// Undos already performed stay performed.
						if i > 0 && engineNotFound(err) {
							break
						}
						return err
					}
					undone = append(undone, inv)
				}
			}

			results := make([]map[string]any, 0, len(undone))
			for _, rec := range undone {
				results = append(results, opResult(rec))
			}
			return formatter(cmd, opts).Success(results)
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of operations to undo")
	cmd.Flags().StringVar(&id, "id", "", "undo a specific operation by id")

	return cmd
}
