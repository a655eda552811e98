package buildsys

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/ngld/distbuild/pkg/buildlog"
)

// normalizePath resolves paths relative to the script's directory. Paths starting with // are
// relative to the project root.
func normalizePath(ctx *parserCtx, pathList ...string) string {
	result := filepath.Dir(ctx.filepath)

	for _, path := range pathList {
		if strings.HasPrefix(path, "//") {
			result = filepath.Join(ctx.projectRoot, path[2:])
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

func simplifyPath(ctx *parserCtx, path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	if strings.HasPrefix(absPath, ctx.projectRoot+string(filepath.Separator)) {
		return "//" + filepath.ToSlash(absPath[len(ctx.projectRoot)+1:])
	}
	return path
}

func stringOrPath(value starlark.Value, field string) (string, error) {
	switch value := value.(type) {
	case starlark.String:
		return value.GoString(), nil
	case StarlarkPath:
		return string(value), nil
	default:
		return "", eris.Errorf("invalid type %s for %s, expected string or path", value.Type(), field)
	}
}

type starlarkIterable interface {
	Len() int
	Iterate() starlark.Iterator
}

func starlarkIterable2stringSlice(input *starlark.List, field string) ([]string, error) {
	if input == nil {
		return []string{}, nil
	}

	result := make([]string, 0, input.Len())
	iter := input.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		value, err := stringOrPath(item, field)
		if err != nil {
			return nil, err
		}
		result = append(result, value)
	}
	return result, nil
}

func iterableToTuple(input starlarkIterable) starlark.Tuple {
	parts := make(starlark.Tuple, 0, input.Len())
	iter := input.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		parts = append(parts, item)
	}
	return parts
}

func logPos(thread *starlark.Thread) string {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos
	return fmt.Sprintf("%s:%d:%d", simplifyPath(ctx, ctx.filepath), pos.Line, pos.Col)
}

func info(thread *starlark.Thread, msg string, args ...interface{}) {
	buildlog.Log(getCtx(thread).ctx).Info().
		Msgf("%s: %s", logPos(thread), fmt.Sprintf(msg, args...))
}

func warn(thread *starlark.Thread, msg string, args ...interface{}) {
	buildlog.Log(getCtx(thread).ctx).Warn().
		Msgf("%s: %s", logPos(thread), fmt.Sprintf(msg, args...))
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func interfaceToStarlark(value interface{}) (starlark.Value, error) {
	// handle a few simple and common cases first
	switch value := value.(type) {
	case nil:
		return starlark.None, nil
	case string:
		return starlark.String(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case bool:
		return starlark.Bool(value), nil
	case float64:
		return starlark.Float(value), nil
	case []string:
		items := make(starlark.Tuple, len(value))
		for idx, raw := range value {
			items[idx] = starlark.String(raw)
		}

		return items, nil
	}

	refValue := reflect.ValueOf(value)
	switch refValue.Kind() {
	case reflect.Slice, reflect.Array:
		tuple := make(starlark.Tuple, refValue.Len())
		for idx := 0; idx < refValue.Len(); idx++ {
			var err error
			tuple[idx], err = interfaceToStarlark(refValue.Index(idx).Interface())
			if err != nil {
				return nil, err
			}
		}

		return tuple, nil
	case reflect.Map:
		dict := starlark.NewDict(refValue.Len())
		iter := refValue.MapRange()
		for iter.Next() {
			key, err := interfaceToStarlark(iter.Key().Interface())
			if err != nil {
				return nil, err
			}

			value, err := interfaceToStarlark(iter.Value().Interface())
			if err != nil {
				return nil, err
			}

			err = dict.SetKey(key, value)
			if err != nil {
				return nil, err
			}
		}

		return dict, nil
	}

	return nil, eris.Errorf("encountered unsupported type %v", refValue.Kind())
}
