package buildsys

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

type runtimeCtxKey struct{}

// RunOptions controls how tasks are executed
type RunOptions struct {
	// DryRun only logs what would happen; no compiler is run and no file is written.
	DryRun bool
	// ToolCommand is the executable that provides the portable rm and mkdir commands for
	// shell steps. If empty, the system's commands are used.
	ToolCommand string
}

// WithRunOptions attaches the given options to the context
func WithRunOptions(ctx context.Context, opts RunOptions) context.Context {
	return context.WithValue(ctx, runtimeCtxKey{}, opts)
}

func getRunOptions(ctx context.Context) RunOptions {
	opts, _ := ctx.Value(runtimeCtxKey{}).(RunOptions)
	return opts
}

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "rm", "mkdir":
			// always use our cross-platform implementation for these operations to make sure
			// they behave consistently
			tool := getRunOptions(ctx).ToolCommand
			if tool != "" {
				args = append([]string{tool}, args...)
			}
		}
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

// runShell executes script in dir with the interpreter's errexit option set.
func runShell(ctx context.Context, dir string, env []string, name, script string) error {
	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(script), name)
	if err != nil {
		return eris.Wrapf(err, "failed to parse command %s", script)
	}

	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(env...)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, os.Stdout, os.Stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "failed to initialize runner")
	}

	printer := syntax.NewPrinter(syntax.Minify(true))
	strBuffer := strings.Builder{}
	dryRun := getRunOptions(ctx).DryRun

	for _, stmt := range file.Stmts {
		strBuffer.Reset()
		err = printer.Print(&strBuffer, stmt)
		if err != nil {
			return eris.Wrap(err, "failed to print command")
		}

		log(ctx).Info().
			Bool("command", true).
			Msg(strBuffer.String())

		if dryRun {
			continue
		}

		err = runner.Run(ctx, stmt)
		if err != nil {
			return eris.Wrapf(err, "command failed: %s", strBuffer.String())
		}

		if runner.Exited() {
			return nil
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}

// RunTask executes the named task with the given options
func RunTask(ctx context.Context, registry *Registry, name string, opts RunOptions) error {
	ctx = WithRunOptions(ctx, opts)

	start := time.Now()
	err := registry.Run(ctx, name)
	if err != nil {
		return err
	}

	log(ctx).Info().
		Str("task", name).
		Dur("took", time.Since(start)).
		Msg("finished")
	return nil
}
