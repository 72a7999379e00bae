package buildsys

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// resolvePathFrom joins pathList onto base. Paths starting with // are relative to the project root.
func resolvePathFrom(base, projectRoot string, pathList ...string) string {
	result := base

	for _, path := range pathList {
		if strings.HasPrefix(path, "//") {
			result = filepath.Join(projectRoot, path[2:])
		} else if strings.HasPrefix(path, "/") {
			result = filepath.Join(filepath.VolumeName(result), path)
		} else if !filepath.IsAbs(path) {
			result = filepath.Join(result, path)
		} else {
			result = path
		}
	}

	return filepath.Clean(result)
}

func normalizePath(ctx *parserCtx, pathList ...string) string {
	return resolvePathFrom(filepath.Dir(ctx.filepath), ctx.projectRoot, pathList...)
}

func simplifyPath(projectRoot, path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	if absPath == projectRoot {
		return "//"
	}

	if strings.HasPrefix(absPath, projectRoot+string(filepath.Separator)) {
		return "//" + filepath.ToSlash(absPath[len(projectRoot)+1:])
	}
	return path
}

func getEnvVars(envOverrides map[string]string) []string {
	osEnv := os.Environ()
	shellEnv := make([]string, 0, len(osEnv)+len(envOverrides))
	for _, item := range osEnv {
		parts := strings.SplitN(item, "=", 2)
		if runtime.GOOS == "windows" {
			parts[0] = strings.ToUpper(parts[0])
		}

		// skip overriden entries to avoid conflicts
		if _, present := envOverrides[parts[0]]; !present {
			shellEnv = append(shellEnv, item)
		}
	}

	for k, v := range envOverrides {
		shellEnv = append(shellEnv, fmt.Sprintf("%s=%s", k, v))
	}

	return shellEnv
}
