package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperpolymath/januskey/internal/model"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	var limit int
	var kind string
	var pathGlob string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List operation history, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()
			ctx := cmdContext()

			var records []model.OperationRecord
			switch {
			case kind != "":
				k := model.Kind(strings.ToUpper(kind))
				if !k.Valid() {
					return NewExitError(ExitCommandError, fmt.Sprintf("unknown operation kind %q", kind))
				}
				records, err = w.Store.ReadHistoryByKind(ctx, k)
			case pathGlob != "":
				records, err = w.Store.ReadHistoryByPathGlob(ctx, pathGlob)
			default:
				records, err = w.Engine.History(ctx, limit)
			}
			if err != nil {
				return err
			}
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}

			f := formatter(cmd, opts)
			if f.Format == "json" {
				return f.Success(records)
			}

			if len(records) == 0 {
				return f.Success("history is empty")
			}
			var b strings.Builder
			for _, rec := range records {
				line := fmt.Sprintf("%s  %-8s  %s", rec.Timestamp.Format("2006-01-02 15:04:05"), rec.Kind, rec.Path)
				if rec.SecondaryPath != "" {
					line += " -> " + rec.SecondaryPath
				}
				if rec.Undone {
					line += "  [undone]"
				}
				if rec.TransactionID != "" {
					line += "  (tx " + shortID(rec.TransactionID) + ")"
				}
				b.WriteString(line)
				b.WriteString("\n  id: ")
				b.WriteString(rec.ID)
				b.WriteString("\n")
			}
			return f.Success(strings.TrimRight(b.String(), "\n"))
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum records to show (0 for all)")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by operation kind (create, delete, ...)")
	cmd.Flags().StringVar(&pathGlob, "path", "", "filter by path glob pattern")

	return cmd
}

// shortID abbreviates a uuid for text output.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
