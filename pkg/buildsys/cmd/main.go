// Package cmd implements the CLI for the buildsys package
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ngld/coffeetask/pkg/buildsys"
	"github.com/ngld/coffeetask/pkg/config"
)

var RootCmd = &cobra.Command{
	Use:   "task [names...] [option=value...]",
	Short: "Runs build tasks",
	Long: `This command parses the first tasks.star file it finds and executes the given tasks.
Without a tasks.star file, the built-in "coffee" and "default" tasks are available.
If no task is passed, "default" is run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		taskArgs := make([]string, 0)
		options := make(map[string]string)
		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		list, err := cmd.Flags().GetBool("list")
		if err != nil {
			return err
		}

		for _, part := range args {
			pos := strings.Index(part, "=")
			if pos > -1 {
				options[part[:pos]] = part[pos+1:]
			} else {
				taskArgs = append(taskArgs, part)
			}
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger := newLogger(cfg)
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx = buildsys.WithLogger(ctx, &logger)

		registry, scriptOptions, err := loadTasks(ctx, cfg, options)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to load tasks")
		}

		if list {
			printTasks(registry, scriptOptions)
			return nil
		}

		if len(taskArgs) == 0 {
			taskArgs = append(taskArgs, "default")
		}

		runOpts := buildsys.RunOptions{DryRun: dryRun}
		self, err := os.Executable()
		if err == nil {
			runOpts.ToolCommand = self
		}

		for _, name := range taskArgs {
			err = buildsys.RunTask(ctx, registry, name, runOpts)
			if err != nil {
				logger.Fatal().Err(err).Msgf("Failed task %s:", name)
			}
		}

		return nil
	},
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Log.JSON {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(NewConsoleWriter(os.Stderr))
	}

	return logger.Level(cfg.LogLevel())
}

// findTaskScript searches the working directory and its parents for the task script
func findTaskScript(name string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", eris.Wrap(err, "failed to retrieve the current working directory")
	}

	path := wd
	for {
		taskPath := filepath.Join(path, name)
		_, err := os.Stat(taskPath)
		if err == nil {
			return taskPath, nil
		}
		if !eris.Is(err, os.ErrNotExist) {
			return "", eris.Wrapf(err, "failed to check %s", taskPath)
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", nil
		}

		path = parent
	}
}

func loadTasks(ctx context.Context, cfg *config.Config, options map[string]string) (*buildsys.Registry, map[string]buildsys.ScriptOption, error) {
	taskPath, err := findTaskScript(cfg.Tasks)
	if err != nil {
		return nil, nil, err
	}

	if taskPath == "" {
		registry, err := buildsys.DefaultRegistry(buildsys.DefaultSettings{
			Pattern: cfg.Coffee.Src,
			Dest:    cfg.Coffee.Dest,
			Ext:     cfg.Coffee.Ext,
			Bare:    cfg.Coffee.Bare,
		}, &buildsys.CoffeeCompiler{Command: cfg.Coffee.Compiler})
		return registry, nil, err
	}

	return buildsys.RunScript(ctx, taskPath, filepath.Dir(taskPath), buildsys.ScriptConfig{
		Options:  options,
		Compiler: cfg.Coffee.Compiler,
	})
}

func printTasks(registry *buildsys.Registry, options map[string]buildsys.ScriptOption) {
	fmt.Println("Available tasks:")
	maxNameLen := 0
	for _, task := range registry.Tasks() {
		if len(task.Name) > maxNameLen {
			maxNameLen = len(task.Name)
		}
	}

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, task := range registry.Tasks() {
		fmt.Printf(lineFmt, task.Name+":", task.Desc)
	}

	if len(options) > 0 {
		names := make([]string, 0, len(options))
		for name := range options {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Println("\nOptions:")
		for _, name := range names {
			opt := options[name]
			fmt.Printf(" * %s=%s\t%s\n", name, opt.Default(), opt.Help)
		}
	}
}

func init() {
	RootCmd.Flags().BoolP("dry", "n", false, "dry run; only print what would be done")
	RootCmd.Flags().BoolP("list", "l", false, "list the available tasks and options")
}
