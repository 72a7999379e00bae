package cmd

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

// expandArgs resolves glob patterns on Windows since cmd.exe leaves them to the called program.
// On other platforms, the shell has already expanded them.
func expandArgs(args []string, allowEmpty bool) ([]string, error) {
	if runtime.GOOS != "windows" {
		return args, nil
	}

	items := make([]string, 0, len(args))
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to resolve pattern %s", arg)
		}

		if matches == nil && !allowEmpty {
			return nil, eris.Errorf("Pattern %s produced no matches", arg)
		}

		items = append(items, matches...)
	}

	return items, nil
}

// removePaths deletes the given files. Directories are only removed if recursive is set.
func removePaths(items []string, recursive, force bool) error {
	for _, item := range items {
		info, err := os.Stat(item)
		if err != nil {
			if force && eris.Is(err, os.ErrNotExist) {
				continue
			}
			return eris.Wrapf(err, "Could not stat %s", item)
		}

		if info.IsDir() && !recursive {
			return eris.Errorf("%s is a directory but -r wasn't passed", item)
		}
	}

	for _, item := range items {
		err := os.RemoveAll(item)
		if err != nil {
			return eris.Wrapf(err, "Could not delete %s", item)
		}
	}

	return nil
}

var rmCmd = &cobra.Command{
	Use:   "rm",
	Short: "A cross-platform implementation of the POSIX rm command",
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, err := cmd.Flags().GetBool("recursive")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		items, err := expandArgs(args, force)
		if err != nil {
			return err
		}

		return removePaths(items, recursive, force)
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir",
	Short: "A cross-platform implementation of the POSIX mkdir command",
	RunE: func(cmd *cobra.Command, args []string) error {
		makeParents, err := cmd.Flags().GetBool("parents")
		if err != nil {
			return err
		}

		for _, item := range args {
			if makeParents {
				err = os.MkdirAll(item, 0770)
			} else {
				err = os.Mkdir(item, 0770)
			}

			if err != nil {
				return eris.Wrapf(err, "Failed to create %s", item)
			}
		}

		return nil
	},
}

func init() {
	rmCmd.Flags().BoolP("recursive", "r", false, "recursively delete directories")
	rmCmd.Flags().BoolP("force", "f", false, "suppresses errors caused by missing files/folders")
	mkdirCmd.Flags().BoolP("parents", "p", false, "create parent directories as needed")

	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mkdirCmd)
}
