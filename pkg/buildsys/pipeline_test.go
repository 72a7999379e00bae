package buildsys

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeCompiler prefixes the source with the passed options and rejects sources that contain "!!".
func fakeCompiler(calls *[]string) Translator {
	return TranslatorFunc(func(ctx context.Context, source []byte, opts Options) ([]byte, error) {
		if calls != nil {
			*calls = append(*calls, filepath.Base(opts.Filename))
		}

		if idx := bytes.Index(source, []byte("!!")); idx > -1 {
			return nil, &TranslationError{File: opts.Filename, Line: 1, Column: idx + 1, Msg: "unexpected !"}
		}

		wrapper := "(function() {\n%s\n}).call(this);\n"
		if opts.Bare {
			wrapper = "%s\n"
		}
		return []byte(fmt.Sprintf(wrapper, bytes.TrimSpace(source))), nil
	})
}

func readOutput(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func newStage(root string, translator Translator) *Stage {
	return &Stage{
		Base:       root,
		Pattern:    "src/**/*.coffee",
		Dest:       "dist",
		Options:    Options{Bare: true},
		Translator: translator,
	}
}

func TestStageMapsPaths(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/greet.coffee":     "greet = (name) -> \"Hello #{name}\"",
		"src/lib/util.coffee":  "square = (x) -> x * x",
		"src/notes.txt":        "not compiled",
		"other/ignored.coffee": "x = 1",
	})

	results, err := newStage(root, fakeCompiler(nil)).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Equal(t, filepath.Join(root, "src", "greet.coffee"), results[0].Source)
	require.Equal(t, filepath.Join(root, "dist", "greet.js"), results[0].Dest)
	require.Equal(t, filepath.Join(root, "dist", "lib", "util.js"), results[1].Dest)

	require.Equal(t, "greet = (name) -> \"Hello #{name}\"\n", readOutput(t, results[0].Dest))
	require.Equal(t, len("square = (x) -> x * x\n"), results[1].Size)

	require.NoFileExists(t, filepath.Join(root, "dist", "notes.js"))
	require.NoFileExists(t, filepath.Join(root, "dist", "ignored.js"))
}

func TestStageProjectPathWithShellCharacters(t *testing.T) {
	for _, dir := range []string{"my project", "a$HOME"} {
		t.Run(dir, func(t *testing.T) {
			root := filepath.Join(t.TempDir(), dir)
			writeFiles(t, root, map[string]string{"src/greet.coffee": "greet = -> 'hi'"})

			results, err := newStage(root, fakeCompiler(nil)).Run(context.Background())
			require.NoError(t, err)
			require.Len(t, results, 1)
			require.Equal(t, filepath.Join(root, "dist", "greet.js"), results[0].Dest)
			require.Equal(t, "greet = -> 'hi'\n", readOutput(t, results[0].Dest))
		})
	}
}

func TestStageBareOption(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"src/greet.coffee": "greet = -> 'hi'"})

	stage := newStage(root, fakeCompiler(nil))
	stage.Options.Bare = false
	_, err := stage.Run(context.Background())
	require.NoError(t, err)
	require.Contains(t, readOutput(t, filepath.Join(root, "dist", "greet.js")), "(function() {")

	stage.Options.Bare = true
	_, err = stage.Run(context.Background())
	require.NoError(t, err)
	require.NotContains(t, readOutput(t, filepath.Join(root, "dist", "greet.js")), "(function() {")
}

func TestStageCustomExtension(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"src/app.coffee": "x = 1"})

	stage := newStage(root, fakeCompiler(nil))
	stage.Ext = ".mjs"
	results, err := stage.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, filepath.Join(root, "dist", "app.mjs"), results[0].Dest)
	require.FileExists(t, results[0].Dest)
}

func TestStageEmptySource(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0770))

	results, err := newStage(root, fakeCompiler(nil)).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, results)
	require.NoDirExists(t, filepath.Join(root, "dist"))
}

func TestStageIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/a.coffee":     "a = 1",
		"src/sub/b.coffee": "b = 2",
	})

	stage := newStage(root, fakeCompiler(nil))
	first, err := stage.Run(context.Background())
	require.NoError(t, err)

	contents := map[string]string{}
	for _, result := range first {
		contents[result.Dest] = readOutput(t, result.Dest)
	}

	second, err := stage.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, second)

	for _, result := range second {
		require.Equal(t, contents[result.Dest], readOutput(t, result.Dest))
	}

	// no temporary files are left behind
	entries, err := os.ReadDir(filepath.Join(root, "dist"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestStageFailsFast(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/a.coffee": "a = 1",
		"src/b.coffee": "b = !!",
		"src/c.coffee": "c = 3",
	})

	calls := []string{}
	results, err := newStage(root, fakeCompiler(&calls)).Run(context.Background())

	var tErr *TranslationError
	require.True(t, errors.As(err, &tErr))
	require.Equal(t, filepath.Join(root, "src", "b.coffee"), tErr.File)
	require.Equal(t, 1, tErr.Line)
	require.Equal(t, 5, tErr.Column)

	require.Equal(t, []string{"a.coffee", "b.coffee"}, calls)
	require.Len(t, results, 1)
	require.FileExists(t, filepath.Join(root, "dist", "a.js"))
	require.NoFileExists(t, filepath.Join(root, "dist", "b.js"))
	require.NoFileExists(t, filepath.Join(root, "dist", "c.js"))
}

func TestStageCollision(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/App.coffee": "a = 1",
		"src/app.coffee": "b = 2",
	})

	entries, err := os.ReadDir(filepath.Join(root, "src"))
	require.NoError(t, err)
	if len(entries) < 2 {
		t.Skip("the filesystem is case-insensitive")
	}

	_, err = newStage(root, fakeCompiler(nil)).Run(context.Background())

	var cErr *CollisionError
	require.True(t, errors.As(err, &cErr))
	require.Len(t, cErr.Sources, 2)
	require.NoDirExists(t, filepath.Join(root, "dist"))
}

func TestStageUnwritableDestination(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/a.coffee": "a = 1",
		// a file where the output directory should be
		"dist": "",
	})

	_, err := newStage(root, fakeCompiler(nil)).Run(context.Background())

	var fsErr *FileSystemError
	require.True(t, errors.As(err, &fsErr))
	require.Equal(t, "mkdir", fsErr.Op)
}

func TestStageDryRun(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"src/a.coffee": "a = 1"})

	calls := []string{}
	ctx := WithRunOptions(context.Background(), RunOptions{DryRun: true})
	results, err := newStage(root, fakeCompiler(&calls)).Run(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, filepath.Join(root, "dist", "a.js"), results[0].Dest)
	require.Empty(t, calls)
	require.NoDirExists(t, filepath.Join(root, "dist"))
}

func TestStageCancellationBetweenFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/a.coffee": "a = 1",
		"src/b.coffee": "b = 2",
	})

	ctx, cancel := context.WithCancel(context.Background())
	translator := TranslatorFunc(func(_ context.Context, source []byte, opts Options) ([]byte, error) {
		cancel()
		return source, nil
	})

	results, err := newStage(root, translator).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
	require.FileExists(t, filepath.Join(root, "dist", "a.js"))
	require.NoFileExists(t, filepath.Join(root, "dist", "b.js"))
}

func TestDefaultRegistry(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/greet.coffee": "greet = (name) -> \"Hello #{name}\"",
	})

	registry, err := DefaultRegistry(DefaultSettings{
		Base:    root,
		Pattern: "src/*.coffee",
		Dest:    "dist",
		Bare:    true,
	}, fakeCompiler(nil))
	require.NoError(t, err)

	tasks := registry.Tasks()
	require.Len(t, tasks, 2)
	require.Equal(t, "coffee", tasks[0].Name)
	require.Equal(t, "default", tasks[1].Name)

	err = RunTask(context.Background(), registry, "default", RunOptions{})
	require.NoError(t, err)
	require.Equal(t, "greet = (name) -> \"Hello #{name}\"\n", readOutput(t, filepath.Join(root, "dist", "greet.js")))
}

func TestDefaultRegistryReportsTranslationErrors(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"src/bad.coffee": "x = !!"})

	registry, err := DefaultRegistry(DefaultSettings{
		Base:    root,
		Pattern: "src/*.coffee",
		Dest:    "dist",
	}, fakeCompiler(nil))
	require.NoError(t, err)

	err = RunTask(context.Background(), registry, "default", RunOptions{})
	var tErr *TranslationError
	require.True(t, errors.As(err, &tErr))

	var taskErr *TaskError
	require.True(t, errors.As(err, &taskErr))
	require.Equal(t, "default", taskErr.Task)
}
