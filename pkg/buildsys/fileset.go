package buildsys

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

const globMeta = "*?[{"

// FileSet is the list of files matched by a glob at the time Glob was called. Each path is
// handed out once by Next; a consumed FileSet can't be rewound.
type FileSet struct {
	paths []string
	pos   int
}

// Next returns the next path. ok is false once the set is exhausted.
func (f *FileSet) Next() (path string, ok bool) {
	if f.pos >= len(f.paths) {
		return "", false
	}

	path = f.paths[f.pos]
	f.pos++
	return path, true
}

// Remaining returns the number of paths Next has yet to return
func (f *FileSet) Remaining() int {
	return len(f.paths) - f.pos
}

func shellReadDir(path string) ([]os.FileInfo, error) {
	if path == "" {
		path = "."
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	infos := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// the file vanished in the meantime
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Glob resolves pattern relative to base and returns the regular files it matches in lexical
// order. Supports the usual shell patterns plus ** for recursive matches.
func Glob(ctx context.Context, base, pattern string) (*FileSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// base only reaches the expander through PWD so that spaces or $ in the project path aren't
	// parsed as shell syntax.
	cfg := expand.Config{
		Env:      expand.ListEnviron("PWD=" + base),
		ReadDir:  shellReadDir,
		GlobStar: true,
	}

	relPattern := filepath.ToSlash(pattern)
	if strings.HasPrefix(relPattern, "//") {
		relPattern = relPattern[2:]
	}

	parser := syntax.NewParser()
	words := make([]*syntax.Word, 0)
	err := parser.Words(strings.NewReader(relPattern), func(w *syntax.Word) bool {
		words = append(words, w)
		return true
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse pattern %s", pattern)
	}

	matches, err := expand.Fields(&cfg, words...)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve pattern %s", pattern)
	}

	seen := make(map[string]bool, len(matches))
	result := make([]string, 0, len(matches))
	for _, match := range matches {
		match = filepath.FromSlash(match)
		if !filepath.IsAbs(match) {
			match = filepath.Join(base, match)
		}
		if seen[match] {
			continue
		}

		// Patterns without matches are returned verbatim so we have to check every result.
		info, err := os.Stat(match)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, &FileSystemError{Op: "stat", Path: match, Err: err}
		}

		if info.Mode().IsRegular() {
			seen[match] = true
			result = append(result, match)
		}
	}

	sort.Strings(result)
	return &FileSet{paths: result}, nil
}

// GlobRoot returns the leading part of pattern that doesn't contain any wildcards. For
// "src/**/*.coffee" that's "src". Paths of matched files are mapped relative to this directory.
func GlobRoot(pattern string) string {
	parts := strings.Split(filepath.ToSlash(pattern), "/")
	root := make([]string, 0, len(parts))
	for idx, part := range parts {
		if strings.ContainsAny(part, globMeta) || idx == len(parts)-1 {
			break
		}
		root = append(root, part)
	}

	if len(root) == 0 {
		return "."
	}

	result := path.Join(root...)
	if strings.HasPrefix(pattern, "/") {
		result = "/" + result
	}
	return filepath.FromSlash(result)
}
