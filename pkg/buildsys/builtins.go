package buildsys

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"
)

func resolvePath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	base := ""
	ctx := getCtx(thread)

	for _, kv := range kwargs {
		key := kv[0].(starlark.String).GoString()
		if key != "base" {
			return nil, eris.Errorf("unexpected keyword argument %s", key)
		}

		switch value := kv[1].(type) {
		case starlark.String:
			base = value.GoString()
		case StarlarkPath:
			base = string(value)
		default:
			return nil, eris.Errorf("invalid type %s for keyword base, expected string or path", kv[1].Type())
		}

		base = normalizePath(ctx, base)
	}

	if len(args) < 1 {
		return nil, eris.New("expects at least one argument")
	}

	parts := make([]string, len(args))
	for idx, path := range args {
		switch value := path.(type) {
		case starlark.String:
			parts[idx] = value.GoString()
		case StarlarkPath:
			parts[idx] = string(value)
		default:
			return nil, eris.Errorf("only accepts string arguments but argument %d was a %s", idx, path.Type())
		}
	}

	normPath := normalizePath(ctx, parts...)
	if base != "" {
		var err error
		normPath, err = filepath.Rel(base, normPath)
		if err != nil {
			return nil, err
		}
	}

	return StarlarkPath(normPath), nil
}

func starInfo(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	info(thread, "%s", message)
	return starlark.None, nil
}

func starWarn(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	warn(thread, "%s", message)
	return starlark.None, nil
}

func starError(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message)
	if err != nil {
		return nil, err
	}

	return nil, eris.New(message)
}

func getenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &key)
	if err != nil {
		return nil, err
	}

	value, ok := getCtx(thread).envOverrides[key]
	if !ok {
		value = os.Getenv(key)
	}

	return starlark.String(value), nil
}

func setenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var value string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &key, &value)
	if err != nil {
		return nil, err
	}

	getCtx(thread).envOverrides[key] = value
	return starlark.True, nil
}

func readYaml(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var yamlFile string
	var yamlKey string
	var defaultValue starlark.Value = starlark.None

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &yamlFile, &yamlKey, &defaultValue)
	if err != nil {
		return nil, err
	}

	yamlFile = normalizePath(getCtx(thread), yamlFile)

	cache := getCtx(thread).yamlCache
	doc, loaded := cache[yamlFile]
	if !loaded {
		content, err := os.ReadFile(yamlFile)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to open file %s", yamlFile)
		}

		err = yaml.Unmarshal(content, &doc)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse file %s", yamlFile)
		}
		cache[yamlFile] = doc
	}

	value := reflect.ValueOf(doc)
	for _, key := range strings.Split(yamlKey, ".") {
		if value.Kind() == reflect.Interface {
			value = value.Elem()
		}

		switch value.Kind() {
		case reflect.Map:
			value = value.MapIndex(reflect.ValueOf(key))
		case reflect.Slice:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= value.Len() {
				return defaultValue, nil
			}
			value = value.Index(idx)
		case reflect.Invalid:
			return defaultValue, nil
		default:
			return nil, eris.Errorf("encountered unexpected value of kind %v in YAML document", value.Kind())
		}
	}

	if !value.IsValid() || (value.Kind() == reflect.Interface && value.IsNil()) {
		return defaultValue, nil
	}

	switch value := value.Interface().(type) {
	case string:
		return starlark.String(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case bool:
		return starlark.Bool(value), nil
	case float64:
		return starlark.Float(value), nil
	case nil:
		return defaultValue, nil
	default:
		return nil, eris.Errorf("can't return value %v", value)
	}
}

func starIsdir(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dirPath string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &dirPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(normalizePath(getCtx(thread), dirPath))
	return starlark.Bool(err == nil && info.IsDir()), nil
}

func starIsfile(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var filePath string

	err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &filePath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(normalizePath(getCtx(thread), filePath))
	return starlark.Bool(err == nil && info.Mode().IsRegular()), nil
}
