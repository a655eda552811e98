package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/distbuild/pkg/buildlog"
	"github.com/ngld/distbuild/pkg/config"
	"github.com/ngld/distbuild/pkg/selector"
)

// TaskFile is the name of the script LoadScript expects in a project
const TaskFile = selector.TaskFile

type parserCtx struct {
	ctx          context.Context
	options      map[string]ScriptOption
	optionValues map[string]string
	envOverrides map[string]string
	yamlCache    map[string]interface{}
	filepath     string
	projectRoot  string
	tasks        []*Task
	initPhase    bool
}

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

// processCmdParts turns ("FOO=bar", "cmd", "arg") into a shell call with quoted arguments.
// Leading items containing "=" become variable assignments.
func processCmdParts(parts starlark.Tuple, parser *syntax.Parser, base string) (*syntax.CallExpr, error) {
	envVars := make([]string, 0, len(parts))
	for _, part := range parts {
		value, ok := part.(starlark.String)
		if !ok || !strings.Contains(value.GoString(), "=") {
			break
		}
		envVars = append(envVars, value.GoString())
	}

	cmd := new(syntax.CallExpr)
	if len(envVars) > 0 {
		joinedEnvVars := strings.Join(envVars, " ")
		result, err := parser.Parse(strings.NewReader(joinedEnvVars), "env vars")
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse command vars %s", joinedEnvVars)
		}

		if len(result.Stmts) != 1 || result.Stmts[0].Cmd == nil {
			return nil, eris.Errorf("malformed env vars %s", joinedEnvVars)
		}

		var ok bool
		cmd, ok = result.Stmts[0].Cmd.(*syntax.CallExpr)
		if !ok || cmd.Assigns == nil {
			return nil, eris.Errorf("malformed env vars %s", joinedEnvVars)
		}
	}

	args := parts[len(envVars):]
	if len(args) == 0 {
		return nil, eris.New("command is empty")
	}

	cmd.Args = make([]*syntax.Word, len(args))
	for a, arg := range args {
		var encodedValue string

		switch value := arg.(type) {
		case starlark.String:
			encodedValue = value.GoString()
		case StarlarkPath:
			encodedValue = string(value)

			if filepath.IsAbs(encodedValue) {
				// absolute paths cause issues on Windows
				relValue, err := filepath.Rel(base, encodedValue)
				if err == nil {
					encodedValue = relValue
				}
			}

			encodedValue = filepath.ToSlash(encodedValue)
		default:
			return nil, eris.Errorf("found argument of type %s but only strings and paths are supported: %s", arg.Type(), arg.String())
		}

		var wordPart syntax.WordPart
		if strings.ContainsAny(encodedValue, " $'\"*?&|;<>()") {
			wordPart = &syntax.SglQuoted{Value: strings.ReplaceAll(encodedValue, "'", `'"'"'`)}
		} else {
			wordPart = &syntax.Lit{Value: encodedValue}
		}

		cmd.Args[a] = &syntax.Word{Parts: []syntax.WordPart{wordPart}}
	}

	return cmd, nil
}

func printCmd(printer *syntax.Printer, cmd syntax.Node) (string, error) {
	buffer := strings.Builder{}
	err := printer.Print(&buffer, cmd)
	if err != nil {
		return "", err
	}
	return buffer.String(), nil
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
	if !ctx.initPhase {
		return nil, eris.New("can only be called during the init phase (in the global scope)")
	}

	ctx.options[name] = ScriptOption{
		DefaultValue: defaultValue,
		Help:         help,
	}

	value, ok := ctx.optionValues[name]
	if ok {
		return starlark.String(value), nil
	}

	return defaultValue, nil
}

func task(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var deps *starlark.List
	var skipIfExists *starlark.List
	var inputs *starlark.List
	var outputs *starlark.List
	var env *starlark.Dict
	var cmds *starlark.List
	var base starlark.Value

	task := new(Task)
	ctx := getCtx(thread)

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "short?", &task.Short, "hidden?", &task.Hidden,
		"desc?", &task.Desc, "deps?", &deps, "base?", &base, "skip_if_exists?", &skipIfExists, "inputs?",
		&inputs, "outputs?", &outputs, "env?", &env, "cmds?", &cmds)
	if err != nil {
		return nil, err
	}

	if task.Short == "" {
		task.Hidden = true
		task.Short = "auto#" + nanoid.New()
	}

	if task.Short == "configure" {
		return nil, eris.New(`the task name "configure" is reserved, please use a different name`)
	}

	task.Base = "."
	if base != nil && base != starlark.None {
		task.Base, err = stringOrPath(base, "base")
		if err != nil {
			return nil, err
		}
	}
	task.Base = normalizePath(ctx, task.Base)

	for field, target := range map[string]struct {
		list *starlark.List
		dest *[]string
	}{
		"deps":           {deps, &task.Deps},
		"skip_if_exists": {skipIfExists, &task.SkipIfExists},
		"inputs":         {inputs, &task.Inputs},
		"outputs":        {outputs, &task.Outputs},
	} {
		*target.dest, err = starlarkIterable2stringSlice(target.list, field)
		if err != nil {
			return nil, err
		}
	}

	task.Env = map[string]string{}
	if env != nil {
		for _, item := range env.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, eris.Errorf("found key type %s in env map but only strings are supported", item[0].Type())
			}

			value, err := stringOrPath(item[1], "env."+key.GoString())
			if err != nil {
				return nil, err
			}
			task.Env[key.GoString()] = value
		}
	}

	printer := syntax.NewPrinter(syntax.Minify(true))
	parser := syntax.NewParser()
	task.Cmds = make([]TaskCmd, 0)

	if cmds != nil {
		iter := cmds.Iterate()
		defer iter.Done()

		var item starlark.Value
		for idx := 0; iter.Next(&item); idx++ {
			var parts starlark.Tuple

			switch value := item.(type) {
			case starlark.String:
				task.Cmds = append(task.Cmds, TaskCmdScript{TaskName: task.Short, Content: value.GoString(), Index: idx})
				continue
			case *Task:
				task.Cmds = append(task.Cmds, TaskCmdTaskRef{Task: value})
				continue
			case *TaskCmdTransform:
				task.Cmds = append(task.Cmds, value)
				continue
			case starlark.Tuple:
				parts = value
			case *starlark.List:
				parts = iterableToTuple(value)
			default:
				return nil, eris.Errorf("%s: unexpected type %s. Only strings, tuples, lists, tasks and transforms are valid",
					fn.Name(), item.Type())
			}

			cmd, err := processCmdParts(parts, parser, task.Base)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to process command #%d", idx)
			}

			content, err := printCmd(printer, cmd)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to process command #%d", idx)
			}

			task.Cmds = append(task.Cmds, TaskCmdScript{TaskName: task.Short, Content: content, Index: idx})
		}
	}

	if len(task.Inputs) > 0 && len(task.Outputs) == 0 {
		warn(thread, "%s: found inputs but no outputs", fn.Name())
	}

	if !task.Hidden {
		ctx.tasks = append(ctx.tasks, task)
	}
	return task, nil
}

func transform(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var src starlark.Value
	var dest starlark.Value
	var env string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "src", &src, "dest", &dest, "env?", &env)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if env == "" {
		env = ctx.optionValues["env"]
	}
	if env == "" {
		env = string(config.EnvDev)
	}

	envCfg := config.Config{Env: env}
	if err := envCfg.ValidateEnv(); err != nil {
		return nil, err
	}

	result := &TaskCmdTransform{Env: config.Env(env)}
	result.Src, err = stringOrPath(src, "src")
	if err != nil {
		return nil, err
	}

	result.Dest, err = stringOrPath(dest, "dest")
	if err != nil {
		return nil, err
	}

	result.Src = normalizePath(ctx, result.Src)
	result.Dest = normalizePath(ctx, result.Dest)
	return result, nil
}

// LoadScript executes a tasks.star script and calls its configure function. options are returned
// by the matching option() calls.
func LoadScript(ctx context.Context, filename, projectRoot string, options map[string]string) (*Script, error) {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, err
	}

	filename, err = filepath.Abs(filename)
	if err != nil {
		return nil, err
	}

	if options == nil {
		options = map[string]string{}
	}

	builtins := starlark.StringDict{
		"OS":            starlark.String(runtime.GOOS),
		"ARCH":          starlark.String(runtime.GOARCH),
		"info":          starlark.NewBuiltin("info", starInfo),
		"warn":          starlark.NewBuiltin("warn", starWarn),
		"error":         starlark.NewBuiltin("error", starError),
		"resolve_path":  starlark.NewBuiltin("resolve_path", resolvePath),
		"option":        starlark.NewBuiltin("option", option),
		"getenv":        starlark.NewBuiltin("getenv", getenv),
		"setenv":        starlark.NewBuiltin("setenv", setenv),
		"prepend_path":  starlark.NewBuiltin("prepend_path", prependPathDir),
		"read_yaml":     starlark.NewBuiltin("read_yaml", readYaml),
		"package_field": starlark.NewBuiltin("package_field", packageField),
		"exists":        starlark.NewBuiltin("exists", exists),
		"task":          starlark.NewBuiltin("task", task),
		"transform":     starlark.NewBuiltin("transform", transform),
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			buildlog.Log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	threadCtx := parserCtx{
		ctx:          ctx,
		filepath:     filename,
		projectRoot:  projectRoot,
		options:      make(map[string]ScriptOption),
		optionValues: options,
		envOverrides: make(map[string]string),
		tasks:        make([]*Task, 0),
		yamlCache:    make(map[string]interface{}),
		initPhase:    true,
	}
	thread.SetLocal("parserCtx", &threadCtx)

	script, err := os.ReadFile(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read file")
	}

	shortName := simplifyPath(&threadCtx, filename)
	globals, err := starlark.ExecFile(thread, shortName, script, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.Errorf("failed to execute %s:\n%s", shortName, evalError.Backtrace())
		}
		return nil, eris.Wrapf(err, "failed to execute %s", shortName)
	}

	configure, ok := globals["configure"]
	if !ok {
		return nil, eris.Errorf("%s did not declare a configure function", shortName)
	}

	configureFunc, ok := configure.(starlark.Callable)
	if !ok {
		return nil, eris.Errorf("%s did declare a configure value but it's not a function", shortName)
	}

	threadCtx.initPhase = false
	_, err = starlark.Call(thread, configureFunc, starlark.Tuple{}, nil)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, eris.New(evalError.Backtrace())
		}
		return nil, eris.Wrapf(err, "failed configure call in %s", shortName)
	}

	tasks := TaskList{}
	for _, task := range threadCtx.tasks {
		if _, exists := tasks[task.Short]; exists {
			return nil, eris.Errorf("%s declared the task %s twice", shortName, task.Short)
		}
		tasks[task.Short] = task

		for name, value := range threadCtx.envOverrides {
			if _, present := task.Env[name]; !present {
				task.Env[name] = value
			}
		}
	}

	return &Script{
		Path:    filename,
		Tasks:   tasks,
		Options: threadCtx.options,
	}, nil
}
