package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewMkdirCommand creates the mkdir command.
func NewMkdirCommand(opts *RootOptions) *cobra.Command {
	var parents bool

	cmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()

			rec, err := w.Engine.Mkdir(cmdContext(), args[0], parents)
			if err != nil {
				return err
			}
			return formatter(cmd, opts).Success(opResult(rec))
		},
	}
	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "create parent directories as needed")
	return cmd
}

// NewRmdirCommand creates the rmdir command.
func NewRmdirCommand(opts *RootOptions) *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "rmdir <path>",
		Short: "Remove a directory",
		Long:  "Removes an empty directory. With --recursive, the whole subtree is removed after staging every contained file, so the removal can be undone.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()

			rec, err := w.Engine.Rmdir(cmdContext(), args[0], recursive)
			if err != nil {
				return err
			}
			return formatter(cmd, opts).Success(opResult(rec))
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "remove directory contents recursively")
	return cmd
}

// NewSymlinkCommand creates the symlink command.
func NewSymlinkCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "symlink <target> <link>",
		Short: "Create a symbolic link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()

			rec, err := w.Engine.Symlink(cmdContext(), args[0], args[1])
			if err != nil {
				return err
			}
			return formatter(cmd, opts).Success(opResult(rec))
		},
	}
}

// NewAppendCommand creates the append command.
func NewAppendCommand(opts *RootOptions) *cobra.Command {
	var fromFile string

	cmd := &cobra.Command{
		Use:   "append <path> [content]",
		Short: "Append content to a file",
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

			rec, err := w.Engine.Append(cmdContext(), args[0], content)
			if err != nil {
				return err
			}
			return formatter(cmd, opts).Success(opResult(rec))
		},
	}
	cmd.Flags().StringVar(&fromFile, "file", "", "read content from a file instead of the argument")
	return cmd
}

// NewTruncateCommand creates the truncate command.
func NewTruncateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "truncate <path> <size>",
		Short: "Truncate a file to a given size",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || size < 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid size %q", args[1]))
			}

			w, err := openWorkspace(opts)
			if err != nil {
				return err
			}
			defer w.Close()

			rec, err := w.Engine.Truncate(cmdContext(), args[0], size)
			if err != nil {
				return err
			}
			return formatter(cmd, opts).Success(opResult(rec))
		},
	}
}

// NewTouchCommand creates the touch command.
func NewTouchCommand(opts *RootOptions) *cobra.Command {
	var create bool

	cmd := &cobra.Command{
		Use:   "touch <path>...",
		Short: "Update file timestamps",
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
				rec, err := w.Engine.Touch(ctx, path, create)
				if err != nil {
					return err
				}
				results = append(results, opResult(rec))
			}
			return formatter(cmd, opts).Success(results)
		},
	}
	cmd.Flags().BoolVarP(&create, "create", "c", false, "create missing files as empty files")
	return cmd
}
