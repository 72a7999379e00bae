package buildsys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

// ScriptConfig holds the inputs for RunScript
type ScriptConfig struct {
	// Options contains the values passed on the command line (key=value).
	Options map[string]string
	// Compiler is the default for coffee() stages that don't set compiler.
	Compiler string
	// Translator replaces the CoffeeScript compiler for all stages if set.
	Translator Translator
}

type parserCtx struct {
	ctx          context.Context
	cfg          ScriptConfig
	registry     *Registry
	options      map[string]ScriptOption
	envOverrides map[string]string
	yamlCache    map[string]interface{}
	filepath     string
	projectRoot  string
	// registration errors are kept separately so that callers can inspect their type
	regErr error
}

// * Helpers

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

type starlarkIterable interface {
	Len() int
	Iterate() starlark.Iterator
}

func starlarkIterable2stringSlice(input starlarkIterable, field string) ([]string, error) {
	if value, ok := input.(*starlark.List); ok && value == nil {
		return []string{}, nil
	}

	result := make([]string, 0, input.Len())
	iter := input.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		switch value := item.(type) {
		case starlark.String:
			result = append(result, value.GoString())
		default:
			return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, item.Type())
		}
	}
	return result, nil
}

func info(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	log(ctx.ctx).Info().
		Msgf("%s:%d:%d: %s", simplifyPath(ctx.projectRoot, ctx.filepath), pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

func warn(thread *starlark.Thread, msg string, args ...interface{}) {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos

	log(ctx.ctx).Warn().
		Msgf("%s:%d:%d: %s", simplifyPath(ctx.projectRoot, ctx.filepath), pos.Line, pos.Col, fmt.Sprintf(msg, args...))
}

// * Builtin functions

func option(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue starlark.String
	var help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	ctx.options[name] = ScriptOption{
		DefaultValue: defaultValue,
		Help:         help,
	}

	value, ok := ctx.cfg.Options[name]
	if ok {
		return starlark.String(value), nil
	}

	return defaultValue, nil
}

func coffee(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var src, dest, ext, compiler, base string
	var bare bool

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "src", &src, "dest", &dest, "bare?", &bare,
		"ext?", &ext, "compiler?", &compiler, "base?", &base)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if base == "" {
		base = "."
	}
	base = normalizePath(ctx, base)

	if compiler == "" {
		compiler = ctx.cfg.Compiler
	}

	translator := ctx.cfg.Translator
	if translator == nil {
		translator = &CoffeeCompiler{
			Command: compiler,
			Dir:     base,
			Env:     getEnvVars(ctx.envOverrides),
		}
	}

	return &Stage{
		Base:       base,
		Pattern:    src,
		Dest:       dest,
		Ext:        ext,
		Options:    Options{Bare: bare},
		Translator: translator,
	}, nil
}

func series(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, eris.Errorf("%s: unexpected keyword arguments", fn.Name())
	}

	names, err := starlarkIterable2stringSlice(args, "series")
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	body, err := ctx.registry.Series(names...)
	if err != nil {
		if ctx.regErr == nil {
			ctx.regErr = err
		}
		return nil, err
	}

	return &Task{
		Name:   "auto#" + nanoid.New(),
		Hidden: true,
		Run:    body,
	}, nil
}

func task(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, desc string
	var steps *starlark.List

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "desc?", &desc, "steps?", &steps)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	body := make([]TaskFunc, 0)
	if steps != nil {
		iter := steps.Iterate()
		defer iter.Done()

		var item starlark.Value
		idx := 0
		for iter.Next(&item) {
			switch value := item.(type) {
			case starlark.String:
				body = append(body, shellStep(ctx, fmt.Sprintf("%s:%d", name, idx), value.GoString()))
			case *Stage:
				body = append(body, value.Task())
			case *Task:
				body = append(body, taskStep(value))
			default:
				return nil, eris.Errorf("%s: unexpected type %s. Only strings, stages and tasks are valid", fn.Name(), item.Type())
			}

			idx++
		}
	}

	if len(body) == 0 {
		warn(thread, "%s: task %s has no steps", fn.Name(), name)
	}

	result, err := ctx.registry.Register(name, desc, func(ctx context.Context) error {
		for _, step := range body {
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := step(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if ctx.regErr == nil {
			ctx.regErr = err
		}
		return nil, err
	}

	return result, nil
}

func shellStep(pctx *parserCtx, name, script string) TaskFunc {
	dir := filepath.Dir(pctx.filepath)
	return func(ctx context.Context) error {
		return runShell(ctx, dir, getEnvVars(pctx.envOverrides), name, script)
	}
}

func taskStep(t *Task) TaskFunc {
	if t.Hidden {
		// anonymous tasks (i.e. series()) are part of the calling task
		return t.Run
	}

	return func(ctx context.Context) error {
		return runTask(ctx, t)
	}
}

// RunScript executes a Starlark task script and returns the registry with all declared tasks
// together with the options the script understands.
func RunScript(ctx context.Context, filename, projectRoot string, cfg ScriptConfig) (*Registry, map[string]ScriptOption, error) {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, nil, err
	}

	filename, err = filepath.Abs(filename)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Options == nil {
		cfg.Options = map[string]string{}
	}

	builtins := starlark.StringDict{
		"OS":           starlark.String(runtime.GOOS),
		"ARCH":         starlark.String(runtime.GOARCH),
		"info":         starlark.NewBuiltin("info", starInfo),
		"warn":         starlark.NewBuiltin("warn", starWarn),
		"error":        starlark.NewBuiltin("error", starError),
		"resolve_path": starlark.NewBuiltin("resolve_path", resolvePath),
		"option":       starlark.NewBuiltin("option", option),
		"getenv":       starlark.NewBuiltin("getenv", getenv),
		"setenv":       starlark.NewBuiltin("setenv", setenv),
		"read_yaml":    starlark.NewBuiltin("read_yaml", readYaml),
		"isdir":        starlark.NewBuiltin("isdir", starIsdir),
		"isfile":       starlark.NewBuiltin("isfile", starIsfile),
		"coffee":       starlark.NewBuiltin("coffee", coffee),
		"series":       starlark.NewBuiltin("series", series),
		"task":         starlark.NewBuiltin("task", task),
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	threadCtx := parserCtx{
		ctx:          ctx,
		cfg:          cfg,
		registry:     NewRegistry(),
		filepath:     filename,
		projectRoot:  projectRoot,
		options:      make(map[string]ScriptOption),
		envOverrides: make(map[string]string),
		yamlCache:    make(map[string]interface{}),
	}
	thread.SetLocal("parserCtx", &threadCtx)

	script, err := os.ReadFile(filename)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "failed to read file")
	}

	_, err = starlark.ExecFile(thread, simplifyPath(projectRoot, filename), script, builtins)
	if threadCtx.regErr != nil {
		return nil, nil, threadCtx.regErr
	}

	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, nil, eris.Errorf("failed to execute %s:\n%s", simplifyPath(projectRoot, filename), evalError.Backtrace())
		}
		return nil, nil, eris.Wrap(err, "failed to execute")
	}

	return threadCtx.registry, threadCtx.options, nil
}
