package buildsys

import (
	"bytes"
	"context"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Options are passed to the translator for every file
type Options struct {
	// Bare omits the top-level function safety wrapper from the generated code.
	Bare bool
	// Filename is only used in diagnostics.
	Filename string
}

// Translator turns the source text of a single file into the output text.
// Malformed input is reported as *TranslationError.
type Translator interface {
	Translate(ctx context.Context, source []byte, opts Options) ([]byte, error)
}

// TranslatorFunc adapts a plain function to the Translator interface
type TranslatorFunc func(ctx context.Context, source []byte, opts Options) ([]byte, error)

// Translate calls f
func (f TranslatorFunc) Translate(ctx context.Context, source []byte, opts Options) ([]byte, error) {
	return f(ctx, source, opts)
}

// DefaultCompiler is the command used when CoffeeCompiler.Command is empty
const DefaultCompiler = "coffee"

// CoffeeCompiler runs the CoffeeScript CLI once per file. The source is passed on stdin and the
// JavaScript is read from stdout.
type CoffeeCompiler struct {
	// Command is a shell snippet that starts the compiler, i.e. "coffee" or "npx coffee".
	Command string
	Dir     string
	Env     []string
}

var (
	ansiEscape    = regexp.MustCompile("\x1b\\[[0-9;]*m")
	compilerError = regexp.MustCompile(`(?m)^(.*?):(\d+):(\d+): error: (.*)$`)
)

// Translate implements Translator
func (c *CoffeeCompiler) Translate(ctx context.Context, source []byte, opts Options) ([]byte, error) {
	command := c.Command
	if command == "" {
		command = DefaultCompiler
	}

	cmdLine := command + " --compile --stdio --print --no-header"
	if opts.Bare {
		cmdLine += " --bare"
	}

	script, err := syntax.NewParser().Parse(strings.NewReader(cmdLine), "compiler")
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse compiler command %s", command)
	}

	env := c.Env
	if env == nil {
		env = os.Environ()
	}

	var stdout, stderr bytes.Buffer
	runner, err := interp.New(
		interp.Dir(c.Dir),
		interp.Env(expand.ListEnviron(env...)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(bytes.NewReader(source), &stdout, &stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to initialize runner")
	}

	err = runner.Run(ctx, script)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if tErr := parseCompilerError(stderr.String(), opts.Filename); tErr != nil {
			return nil, tErr
		}

		return nil, eris.Wrapf(err, "failed to run %s: %s", command, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}

// parseCompilerError extracts the first "file:line:col: error: msg" diagnostic from the
// compiler's output. Returns nil if there is none.
func parseCompilerError(output, filename string) *TranslationError {
	output = ansiEscape.ReplaceAllString(output, "")
	match := compilerError.FindStringSubmatchIndex(output)
	if match == nil {
		return nil
	}

	line, _ := strconv.Atoi(output[match[4]:match[5]])
	col, _ := strconv.Atoi(output[match[6]:match[7]])

	file := output[match[2]:match[3]]
	if filename != "" {
		file = filename
	}

	return &TranslationError{
		File:   file,
		Line:   line,
		Column: col,
		Msg:    strings.TrimSpace(output[match[8]:match[9]]),
		Detail: strings.Trim(output[match[1]:], "\r\n"),
	}
}
