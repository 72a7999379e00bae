package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ngld/coffeetask/pkg"
	"github.com/ngld/coffeetask/pkg/config"
	"github.com/ngld/coffeetask/pkg/deps"
)

var fetchDepsCmd = &cobra.Command{
	Use:   "fetch-deps",
	Short: "Downloads and unpacks dependencies",
	Long:  `Downloads and unpacks the dependencies (i.e. the CoffeeScript compiler) listed in DEPS.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		update, err := cmd.Flags().GetBool("update")
		if err != nil {
			return err
		}

		pkg.PrintTask("Loading config")
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		root, err := pkg.GetProjectRoot(cfg.Deps.File, ".git")
		if err != nil {
			return err
		}

		depCfg, err := deps.LoadConfig(filepath.Join(root, cfg.Deps.File))
		if err != nil {
			return err
		}

		stampPath := filepath.Join(root, cfg.Deps.Stamps)
		stamps, err := deps.LoadStamps(stampPath)
		if err != nil {
			return err
		}

		pkg.PrintTask("Downloading dependencies")
		fetcher := deps.NewFetcher(root, stamps)
		fetcher.Update = update
		err = fetcher.FetchAll(cmd.Context(), depCfg)

		// save the stamps even if a download failed so that finished dependencies aren't fetched again
		sErr := deps.SaveStamps(stampPath, fetcher.Stamps)
		if sErr != nil {
			pkg.PrintError(sErr.Error())
		}

		for name, checksum := range fetcher.Checksums {
			pkg.PrintSubtask(fmt.Sprintf("New checksum for %s: %s", name, checksum))
		}

		pkg.PrintTask("Done")
		return err
	},
}

func init() {
	rootCmd.AddCommand(fetchDepsCmd)
	fetchDepsCmd.Flags().BoolP("update", "u", false, "Accept and print changed checksums")
}
