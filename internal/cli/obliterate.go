package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperpolymath/januskey/internal/hash"
)

// NewObliterateCommand creates the obliterate command.
func NewObliterateCommand(opts *RootOptions) *cobra.Command {
	var reason string
	var legalBasis string

	cmd := &cobra.Command{
		Use:   "obliterate <hash>...",
		Short: "Irrecoverably erase content from the store",
		Long: "Securely overwrites and removes the content stored under each hash,\n" +
			"emits a verifiable proof, and appends an audit record. Obliterated\n" +
			"content is forever unavailable for undo.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hashes := make([]hash.Digest, 0, len(args))
			for _, arg := range args {
				h, err := hash.Parse(arg)
				if err != nil {
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid hash %q", arg))
				}
				hashes = append(hashes, h)
			}

			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()
			ctx := cmdContext()

			if len(hashes) == 1 {
				rec, err := w.Obl.Obliterate(ctx, hashes[0], reason, legalBasis)
				if err != nil {
					return err
				}
				return formatter(cmd, opts).Success(map[string]any{
					"record_id":    rec.ID,
					"content_hash": rec.ContentHash.String(),
					"proof_id":     rec.Proof.ID,
					"passes":       rec.Proof.OverwritePasses,
					"commitment":   rec.Proof.Commitment.String(),
				})
			}

			result := w.Obl.ObliterateBatch(ctx, hashes, reason, legalBasis)
			payload := map[string]any{
				"success_count": result.SuccessCount,
				"all_succeeded": result.AllSucceeded,
				"skipped":       len(result.Skipped),
				"failed":        len(result.Failed),
			}
			if !result.AllSucceeded {
				if err := formatter(cmd, opts).Success(payload); err != nil {
					return err
				}
				return NewExitError(ExitIoFailure, "batch obliteration completed with failures")
			}
			return formatter(cmd, opts).Success(payload)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit log")
	cmd.Flags().StringVar(&legalBasis, "legal-basis", "", "legal basis recorded in the audit log (e.g. \"GDPR Article 17\")")

	return cmd
}

// NewObliterationHistoryCommand creates the obliteration-history command.
func NewObliterationHistoryCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "obliteration-history",
		Short: "List the obliteration audit log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()

			records, err := w.Obl.History(cmdContext(), limit)
			if err != nil {
				return err
			}

			f := formatter(cmd, opts)
			if f.Format == "json" {
				return f.Success(records)
			}
			if len(records) == 0 {
				return f.Success("obliteration log is empty")
			}
			out := ""
			for _, rec := range records {
				out += fmt.Sprintf("%s  %s\n  proof: %s (passes=%d, cleared=%t)\n",
					rec.Timestamp.Format("2006-01-02 15:04:05"),
					rec.ContentHash,
					rec.Proof.ID,
					rec.Proof.OverwritePasses,
					rec.Proof.StorageCleared,
				)
				if rec.LegalBasis != "" {
					out += "  legal basis: " + rec.LegalBasis + "\n"
				}
			}
			return f.Success(out)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum records to show (0 for all)")
	return cmd
}

// NewVerifyObliterationCommand creates the verify-obliteration command.
func NewVerifyObliterationCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-obliteration <proof-id>",
		Short: "Verify a recorded obliteration proof",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()

			ok, err := w.Obl.VerifyProof(cmdContext(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				if ferr := formatter(cmd, opts).Success(map[string]any{"proof_id": args[0], "valid": false}); ferr != nil {
					return ferr
				}
				return NewExitError(ExitInvalidState, "proof verification failed")
			}
			return formatter(cmd, opts).Success(map[string]any{"proof_id": args[0], "valid": true})
		},
	}
}
