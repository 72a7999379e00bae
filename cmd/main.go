package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/ngld/coffeetask/pkg/buildsys/cmd"
)

var rootCmd = &cobra.Command{
	Use:   "coffeetask",
	Short: "Compiles CoffeeScript sources to JavaScript",
	Long: `This command bundles the task runner that compiles CoffeeScript to JavaScript
together with a few helpers to fetch the compiler and to clean the output.`,
}

func init() {
	rootCmd.AddCommand(cmd.RootCmd)
}

func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cobra.CheckErr(rootCmd.ExecuteContext(ctx))
}
