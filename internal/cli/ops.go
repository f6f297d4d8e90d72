package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hyperpolymath/januskey/internal/model"
)

// opResult is the shared success payload for operation commands.
func opResult(rec model.OperationRecord) map[string]any {
	result := map[string]any{
		"id":   rec.ID,
		"kind": rec.Kind,
		"path": rec.Path,
	}
	if rec.SecondaryPath != "" {
		result["secondary_path"] = rec.SecondaryPath
	}
	return result
}

// contentFromArgs resolves operation content: an inline literal or a file
// read with --file.
func contentFromArgs(inline, fromFile string) ([]byte, error) {
	if fromFile != "" {
		content, err := os.ReadFile(fromFile)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "read content file", err)
		}
		return content, nil
	}
	return []byte(inline), nil
}

// NewCreateCommand creates the create command.
func NewCreateCommand(opts *RootOptions) *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "create <path> [content]",
		Short: "Create a new file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inline := ""
			if len(args) == 2 {
				inline = args[1]
			}
			content, err := contentFromArgs(inline, fromFile)
			if err != nil {
				return err
			}

			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()

			rec, err := w.Engine.Create(cmdContext(), args[0], content)
			if err != nil {
				return err
			}
			return formatter(cmd, opts).Success(opResult(rec))
		},
	}
	cmd.Flags().StringVar(&fromFile, "file", "", "read content from a file instead of the argument")
	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <path>...",
		Short: "Delete files reversibly",
		Long:  "Deletes files after staging their content in the content store, so each deletion can be undone.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()
			ctx := cmdContext()

			results := make([]map[string]any, 0, len(args))
			for _, path := range args {
				rec, err := w.Engine.Delete(ctx, path)
				if err != nil {
					return err
				}
				results = append(results, opResult(rec))
			}
			return formatter(cmd, opts).Success(results)
		},
	}
}

// NewModifyCommand creates the modify command.
func NewModifyCommand(opts *RootOptions) *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "modify <path> [content]",
		Short: "Replace a file's content reversibly",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inline := ""
			if len(args) == 2 {
				inline = args[1]
			}
			content, err := contentFromArgs(inline, fromFile)
			if err != nil {
				return err
			}

			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()

			rec, err := w.Engine.Modify(cmdContext(), args[0], content)
			if err != nil {
				return err
			}
			return formatter(cmd, opts).Success(opResult(rec))
		},
	}
	cmd.Flags().StringVar(&fromFile, "file", "", "read content from a file instead of the argument")
	return cmd
}

// NewMoveCommand creates the move command.
func NewMoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "move <source> <destination>",
		Short: "Move or rename a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()

			rec, err := w.Engine.Move(cmdContext(), args[0], args[1])
			if err != nil {
				return err
			}
			return formatter(cmd, opts).Success(opResult(rec))
		},
	}
}

// NewCopyCommand creates the copy command.
func NewCopyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "copy <source> <destination>",
		Short: "Copy a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()

			rec, err := w.Engine.Copy(cmdContext(), args[0], args[1])
			if err != nil {
				return err
			}
			return formatter(cmd, opts).Success(opResult(rec))
		},
	}
}

// NewChmodCommand creates the chmod command.
func NewChmodCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chmod <mode> <path>",
		Short: "Change file permissions reversibly",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := strconv.ParseUint(args[0], 8, 32)
			if err != nil {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid octal mode %q", args[0]))
			}

			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()

			rec, err := w.Engine.Chmod(cmdContext(), args[1], uint32(mode))
			if err != nil {
				return err
			}
			return formatter(cmd, opts).Success(opResult(rec))
		},
	}
}
