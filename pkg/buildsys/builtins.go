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

	"github.com/ngld/distbuild/pkg/selector"
)

func resolvePath(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	base := ""
	ctx := getCtx(thread)

	for _, kv := range kwargs {
		key := kv[0].(starlark.String).GoString()
		if key != "base" {
			return nil, eris.Errorf("unexpected keyword argument %s", key)
		}

		value, err := stringOrPath(kv[1], "base")
		if err != nil {
			return nil, err
		}
		base = normalizePath(ctx, value)
	}

	if len(args) < 1 {
		return nil, eris.New("expects at least one argument")
	}

	parts := make([]string, len(args))
	for idx, path := range args {
		value, ok := path.(starlark.String)
		if !ok {
			return nil, eris.Errorf("only accepts string arguments but argument %d was a %s", idx, path.Type())
		}
		parts[idx] = value.GoString()
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

// getenv returns the value a task would see, including variables set with setenv
func getenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &key); err != nil {
		return nil, err
	}

	value, ok := getCtx(thread).envOverrides[key]
	if !ok {
		value = os.Getenv(key)
	}
	return starlark.String(value), nil
}

// setenv adds a variable to the environment of every task in the script
func setenv(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key, value string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &key, &value); err != nil {
		return nil, err
	}

	getCtx(thread).envOverrides[key] = value
	return starlark.None, nil
}

// prependPathDir puts a directory in front of PATH for all tasks. Without an argument, the
// project's node_modules/.bin is used so locally installed tools (webpack, tsc, ...) win over
// global ones.
func prependPathDir(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dir starlark.Value = starlark.String("//node_modules/.bin")
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 0, &dir); err != nil {
		return nil, err
	}

	dirPath, err := stringOrPath(dir, "dir")
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	path, ok := ctx.envOverrides["PATH"]
	if !ok {
		path = os.Getenv("PATH")
	}

	ctx.envOverrides["PATH"] = normalizePath(ctx, dirPath) + string(os.PathListSeparator) + path
	return starlark.None, nil
}

func loadDocument(ctx *parserCtx, file string) (interface{}, error) {
	if doc, ok := ctx.yamlCache[file]; ok {
		return doc, nil
	}

	content, err := os.ReadFile(file)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open file %s", file)
	}

	var doc interface{}
	// JSON is a subset of YAML so this also reads package.json
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, eris.Wrapf(err, "failed to parse file %s", file)
	}

	ctx.yamlCache[file] = doc
	return doc, nil
}

// lookupKey resolves a dotted key ("scripts.build" or "files.0") in a decoded document
func lookupKey(doc interface{}, key string, fallback starlark.Value) (starlark.Value, error) {
	value := reflect.ValueOf(doc)
	for _, part := range strings.Split(key, ".") {
		if value.Kind() == reflect.Interface {
			value = value.Elem()
		}

		switch value.Kind() {
		case reflect.Map:
			value = value.MapIndex(reflect.ValueOf(part))
		case reflect.Slice:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= value.Len() {
				return fallback, nil
			}
			value = value.Index(idx)
		case reflect.Invalid:
			return fallback, nil
		default:
			return nil, eris.Errorf("can't look up %s in a %v", part, value.Kind())
		}
	}

	if !value.IsValid() || (value.Kind() == reflect.Interface && value.IsNil()) {
		return fallback, nil
	}
	return interfaceToStarlark(value.Interface())
}

func readYaml(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var file, key string
	var fallback starlark.Value = starlark.None
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 2, &file, &key, &fallback); err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	doc, err := loadDocument(ctx, normalizePath(ctx, file))
	if err != nil {
		return nil, err
	}
	return lookupKey(doc, key, fallback)
}

// packageField reads a key from the project's package.json. A project without one yields the
// fallback, like a missing key.
func packageField(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var fallback starlark.Value = starlark.None
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &key, &fallback); err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	file := filepath.Join(ctx.projectRoot, selector.PackageFile)
	if _, err := os.Stat(file); err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return fallback, nil
		}
		return nil, eris.Wrapf(err, "failed to check %s", file)
	}

	doc, err := loadDocument(ctx, file)
	if err != nil {
		return nil, err
	}
	return lookupKey(doc, key, fallback)
}

// exists reports whether a project path is present. kind narrows the check to "file" or "dir".
func exists(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path, kind string
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "path", &path, "kind?", &kind); err != nil {
		return nil, err
	}

	path = normalizePath(getCtx(thread), path)
	switch kind {
	case "":
		_, err := os.Stat(path)
		return starlark.Bool(err == nil), nil
	case "dir":
		return starlark.Bool(isDir(path)), nil
	case "file":
		info, err := os.Stat(path)
		return starlark.Bool(err == nil && info.Mode().IsRegular()), nil
	default:
		return nil, eris.Errorf("unknown kind %q, expected file or dir", kind)
	}
}
