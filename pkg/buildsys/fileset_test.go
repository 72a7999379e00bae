package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0770))
		require.NoError(t, os.WriteFile(path, []byte(content), 0660))
	}
}

func collect(set *FileSet) []string {
	result := []string{}
	for {
		path, ok := set.Next()
		if !ok {
			return result
		}
		result = append(result, path)
	}
}

func TestGlobMatchesSortedFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/b.coffee":       "",
		"src/a.coffee":       "",
		"src/readme.md":      "",
		"src/sub/c.coffee":   "",
		"src/dir.coffee/x":   "",
		"other/d.coffee":     "",
		"src/sub/deep/e.txt": "",
	})

	set, err := Glob(context.Background(), root, "src/*.coffee")
	require.NoError(t, err)
	require.Equal(t, 2, set.Remaining())

	require.Equal(t, []string{
		filepath.Join(root, "src", "a.coffee"),
		filepath.Join(root, "src", "b.coffee"),
	}, collect(set))
}

func TestGlobStar(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/a.coffee":          "",
		"src/sub/c.coffee":      "",
		"src/sub/deep/d.coffee": "",
	})

	set, err := Glob(context.Background(), root, "src/**/*.coffee")
	require.NoError(t, err)

	require.Equal(t, []string{
		filepath.Join(root, "src", "a.coffee"),
		filepath.Join(root, "src", "sub", "c.coffee"),
		filepath.Join(root, "src", "sub", "deep", "d.coffee"),
	}, collect(set))
}

func TestGlobWithoutMatches(t *testing.T) {
	root := t.TempDir()

	set, err := Glob(context.Background(), root, "src/*.coffee")
	require.NoError(t, err)
	require.Empty(t, collect(set))
}

func TestFileSetIsNotRestartable(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"src/a.coffee": ""})

	set, err := Glob(context.Background(), root, "src/*.coffee")
	require.NoError(t, err)
	require.Len(t, collect(set), 1)

	_, ok := set.Next()
	require.False(t, ok)
	require.Equal(t, 0, set.Remaining())
}

func TestGlobIsEvaluatedPerCall(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"src/a.coffee": ""})

	set, err := Glob(context.Background(), root, "src/*.coffee")
	require.NoError(t, err)
	require.Equal(t, 1, set.Remaining())

	writeFiles(t, root, map[string]string{"src/b.coffee": ""})

	set, err = Glob(context.Background(), root, "src/*.coffee")
	require.NoError(t, err)
	require.Equal(t, 2, set.Remaining())
}

func TestGlobRoot(t *testing.T) {
	cases := map[string]string{
		"src/*.coffee":         "src",
		"./src/*.coffee":       "src",
		"src/**/*.coffee":      "src",
		"lib/app/{a,b}.coffee": filepath.Join("lib", "app"),
		"*.coffee":             ".",
		"src/main.coffee":      "src",
		"/abs/src/*.coffee":    filepath.FromSlash("/abs/src"),
	}

	for pattern, expected := range cases {
		require.Equal(t, expected, GlobRoot(pattern), pattern)
	}
}

func TestGlobBaseWithShellCharacters(t *testing.T) {
	for _, dir := range []string{"my project", "a$HOME", "it's (here)"} {
		t.Run(dir, func(t *testing.T) {
			root := filepath.Join(t.TempDir(), dir)
			writeFiles(t, root, map[string]string{
				"src/a.coffee":     "",
				"src/sub/b.coffee": "",
			})

			set, err := Glob(context.Background(), root, "src/**/*.coffee")
			require.NoError(t, err)
			require.Equal(t, []string{
				filepath.Join(root, "src", "a.coffee"),
				filepath.Join(root, "src", "sub", "b.coffee"),
			}, collect(set))
		})
	}
}

func TestGlobProjectRootPrefix(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"src/a.coffee": ""})

	set, err := Glob(context.Background(), root, "//src/*.coffee")
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(root, "src", "a.coffee")}, collect(set))
}
