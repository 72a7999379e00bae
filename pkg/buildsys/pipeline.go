package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
)

// DefaultExt is the extension of generated files
const DefaultExt = ".js"

// Stage reads all files matching Pattern, translates them and writes the results below Dest.
// The path of each file relative to SrcRoot is kept, only the extension is replaced by Ext.
type Stage struct {
	// Base is the directory relative paths are resolved against. Defaults to the working directory.
	Base    string
	Pattern string
	// SrcRoot defaults to the static part of Pattern (see GlobRoot).
	SrcRoot    string
	Dest       string
	Ext        string
	Options    Options
	Translator Translator
}

// Result describes a single generated file
type Result struct {
	Source string
	Dest   string
	Size   int
}

type plannedFile struct {
	source string
	dest   string
}

func (s *Stage) resolve(path string) string {
	base := s.Base
	if base == "" {
		base = "."
	}
	return resolvePathFrom(base, base, path)
}

// DestPath maps a source file to its output path
func (s *Stage) DestPath(source string) (string, error) {
	srcRoot := s.SrcRoot
	if srcRoot == "" {
		srcRoot = GlobRoot(s.Pattern)
	}

	rel, err := filepath.Rel(s.resolve(srcRoot), s.resolve(source))
	if err != nil {
		return "", eris.Wrapf(err, "failed to map %s", source)
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", eris.Errorf("%s is outside of the source root %s", source, srcRoot)
	}

	ext := s.Ext
	if ext == "" {
		ext = DefaultExt
	}

	rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + ext
	return filepath.Join(s.resolve(s.Dest), rel), nil
}

func (s *Stage) plan(ctx context.Context) ([]plannedFile, error) {
	files, err := Glob(ctx, s.resolve("."), s.Pattern)
	if err != nil {
		return nil, err
	}

	plan := make([]plannedFile, 0, files.Remaining())
	claimed := make(map[string]int)
	for {
		source, ok := files.Next()
		if !ok {
			break
		}

		dest, err := s.DestPath(source)
		if err != nil {
			return nil, err
		}

		key := strings.ToLower(dest)
		if idx, taken := claimed[key]; taken {
			return nil, &CollisionError{
				Dest:    dest,
				Sources: []string{plan[idx].source, source},
			}
		}

		claimed[key] = len(plan)
		plan = append(plan, plannedFile{source: source, dest: dest})
	}

	return plan, nil
}

// Run processes all matching files in lexical order. It stops at the first failure; files
// after the failing one are left untouched.
func (s *Stage) Run(ctx context.Context) ([]Result, error) {
	if s.Translator == nil {
		return nil, eris.New("stage has no translator")
	}

	plan, err := s.plan(ctx)
	if err != nil {
		return nil, err
	}

	if len(plan) == 0 {
		log(ctx).Warn().Msgf("%s didn't match any files", s.Pattern)
		return []Result{}, nil
	}

	dryRun := getRunOptions(ctx).DryRun
	results := make([]Result, 0, len(plan))
	for _, item := range plan {
		// cancellation is only checked between files
		if err := ctx.Err(); err != nil {
			return results, err
		}

		log(ctx).Info().
			Str("path", item.source).
			Msgf("%s -> %s", item.source, item.dest)

		if dryRun {
			results = append(results, Result{Source: item.source, Dest: item.dest})
			continue
		}

		size, err := s.processFile(ctx, item)
		if err != nil {
			return results, err
		}

		results = append(results, Result{Source: item.source, Dest: item.dest, Size: size})
	}

	return results, nil
}

func (s *Stage) processFile(ctx context.Context, item plannedFile) (int, error) {
	source, err := os.ReadFile(item.source)
	if err != nil {
		return 0, &FileSystemError{Op: "read", Path: item.source, Err: err}
	}

	opts := s.Options
	opts.Filename = item.source
	output, err := s.Translator.Translate(ctx, source, opts)
	if err != nil {
		return 0, err
	}

	err = writeFileAtomic(item.dest, output)
	if err != nil {
		return 0, err
	}

	return len(output), nil
}

// writeFileAtomic writes content to a temporary file next to dest and renames it afterwards
// so that dest never contains partial output.
func writeFileAtomic(dest string, content []byte) error {
	destDir := filepath.Dir(dest)
	err := os.MkdirAll(destDir, 0770)
	if err != nil {
		return &FileSystemError{Op: "mkdir", Path: destDir, Err: err}
	}

	tmpPath := dest + ".tmp-" + nanoid.New()
	err = os.WriteFile(tmpPath, content, 0660)
	if err != nil {
		os.Remove(tmpPath)
		return &FileSystemError{Op: "write", Path: dest, Err: err}
	}

	err = os.Rename(tmpPath, dest)
	if err != nil {
		os.Remove(tmpPath)
		return &FileSystemError{Op: "write", Path: dest, Err: err}
	}

	return nil
}

// Task returns a TaskFunc that runs the stage
func (s *Stage) Task() TaskFunc {
	return func(ctx context.Context) error {
		results, err := s.Run(ctx)
		if err != nil {
			return err
		}

		log(ctx).Info().Msgf("compiled %d files", len(results))
		return nil
	}
}
