package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ngld/coffeetask/pkg"
	"github.com/ngld/coffeetask/pkg/config"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Removes the output directory of the built-in coffee task",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		pkg.PrintTask("Removing " + cfg.Coffee.Dest)
		return removePaths([]string{cfg.Coffee.Dest}, true, true)
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}
