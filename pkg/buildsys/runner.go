package buildsys

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/distbuild/pkg/buildlog"
	"github.com/ngld/distbuild/pkg/pipeline"
	"github.com/ngld/distbuild/pkg/selector"
	"github.com/ngld/distbuild/pkg/shell"
)

// RunOptions control a RunTask call
type RunOptions struct {
	// DryRun only logs the commands
	DryRun bool
	// Force ignores skip_if_exists and input/output timestamps
	Force bool
	// Version replaces _VER_ in transform() steps
	Version  string
	Compress bool
	Exclude  selector.Matcher
	Stdout   io.Writer
	Stderr   io.Writer
}

type (
	runtimeCtxKey struct{}
	runtimeCtx    struct {
		runTasks    map[string]bool
		projectRoot string
		opts        RunOptions
	}
)

func getRuntimeCtx(ctx context.Context) *runtimeCtx {
	return ctx.Value(runtimeCtxKey{}).(*runtimeCtx)
}

func shellReadDir(path string) ([]os.FileInfo, error) {
	if path == "" {
		path = "."
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	result := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		result = append(result, info)
	}
	return result, nil
}

// resolvePatternLists expands glob patterns (including **) relative to base
func resolvePatternLists(ctx context.Context, base string, patterns []string) ([]string, error) {
	result := []string{}
	cfg := expand.Config{
		ReadDir:  shellReadDir,
		GlobStar: true,
	}

	parser := syntax.NewParser()
	pctx := &parserCtx{
		filepath:    filepath.Join(base, TaskFile),
		projectRoot: getRuntimeCtx(ctx).projectRoot,
	}

	for _, item := range patterns {
		item = filepath.ToSlash(normalizePath(pctx, item))

		words := make([]*syntax.Word, 0)
		err := parser.Words(strings.NewReader(item), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse pattern %s", item)
		}

		matches, err := expand.Fields(&cfg, words...)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve pattern %s", item)
		}

		for _, match := range matches {
			// If a pattern didn't match anything, it's returned as a result. Skip those results.
			if !strings.Contains(match, "*") {
				result = append(result, match)
			}
		}
	}
	return result, nil
}

// RunTask executes the named task after its dependencies
func RunTask(ctx context.Context, script *Script, name string, opts RunOptions) error {
	taskMeta, found := script.Tasks[name]
	if !found {
		return eris.Errorf("Task %s not found", name)
	}

	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	rctx := runtimeCtx{
		projectRoot: filepath.Dir(script.Path),
		runTasks:    make(map[string]bool),
		opts:        opts,
	}

	ctx = context.WithValue(ctx, runtimeCtxKey{}, &rctx)
	return runTaskInternal(ctx, taskMeta, script.Tasks, opts.Force)
}

func runTaskInternal(ctx context.Context, task *Task, tasks TaskList, force bool) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	rctx := getRuntimeCtx(ctx)
	status, ok := rctx.runTasks[task.Short]
	if ok {
		if status {
			buildlog.Log(ctx).Debug().Msgf("Task %s already run", task.Short)
			return nil
		}

		return eris.Errorf("Task %s was called recursively", task.Short)
	}

	rctx.runTasks[task.Short] = false

	for _, dep := range task.Deps {
		depTask, ok := tasks[dep]
		if !ok {
			return eris.Errorf("Task %s not found", dep)
		}

		err := runTaskInternal(ctx, depTask, tasks, false)
		if err != nil {
			return eris.Wrapf(err, "Task %s failed due to its dependency %s", task.Short, dep)
		}
	}

	if !force {
		upToDate, err := isUpToDate(ctx, task)
		if err != nil {
			return err
		}

		if upToDate {
			rctx.runTasks[task.Short] = true
			return nil
		}
	}

	err := runCmds(ctx, task, tasks, force)
	if err != nil {
		return err
	}

	rctx.runTasks[task.Short] = true
	return nil
}

func isUpToDate(ctx context.Context, task *Task) (bool, error) {
	skipList, err := resolvePatternLists(ctx, task.Base, task.SkipIfExists)
	if err != nil {
		return false, eris.Wrapf(err, "failed to resolve skip_if_exists list")
	}

	found := 0
	for _, item := range skipList {
		_, err := os.Stat(item)
		if err == nil {
			found++
		} else if !eris.Is(err, os.ErrNotExist) {
			return false, eris.Wrapf(err, "Failed to check %s", item)
		}
	}

	if found > 0 && found == len(skipList) {
		buildlog.Log(ctx).Info().
			Str("task", task.Short).
			Msg("skipped because all skip files exist")
		return true, nil
	}

	inputList, err := resolvePatternLists(ctx, task.Base, task.Inputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve inputs")
	}

	outputList, err := resolvePatternLists(ctx, task.Base, task.Outputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve output list")
	}

	var newestInput time.Time
	for _, item := range inputList {
		info, err := os.Stat(item)
		if err != nil {
			return false, eris.Wrapf(err, "Failed to check input %s", item)
		}

		if info.ModTime().After(newestInput) {
			newestInput = info.ModTime()
		}
	}

	if newestInput.IsZero() {
		return false, nil
	}

	var newestOutput time.Time
	for _, item := range outputList {
		info, err := os.Stat(item)
		if err != nil && !eris.Is(err, os.ErrNotExist) {
			return false, eris.Wrapf(err, "Failed to check output %s", item)
		}

		if err == nil && info.ModTime().After(newestOutput) {
			newestOutput = info.ModTime()
		}
	}

	if newestOutput.After(newestInput) {
		buildlog.Log(ctx).Info().
			Str("task", task.Short).
			Msgf("nothing to do (output is %f seconds newer)", newestOutput.Sub(newestInput).Seconds())
		return true, nil
	}

	return false, nil
}

func runCmds(ctx context.Context, task *Task, tasks TaskList, force bool) error {
	rctx := getRuntimeCtx(ctx)
	opts := rctx.opts

	runner, err := shell.NewRunner(task.Base, shell.Environ(task.Env), opts.Stdout, opts.Stderr)
	if err != nil {
		return err
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(syntax.Minify(true))

	for _, item := range task.Cmds {
		switch cmd := item.(type) {
		case TaskCmdScript:
			stmts, err := cmd.shellStmts(parser)
			if err != nil {
				return err
			}

			for _, stmt := range stmts {
				line, err := printCmd(printer, stmt)
				if err != nil {
					return eris.Wrap(err, "failed to print command")
				}
				buildlog.Log(ctx).Info().
					Str("task", task.Short).
					Bool("command", true).
					Msg(line)

				if opts.DryRun {
					continue
				}

				err = runner.Run(ctx, stmt)
				if err != nil {
					return eris.Wrapf(err, "Task %s failed", task.Short)
				}

				if runner.Exited() {
					return nil
				}
			}
		case TaskCmdTaskRef:
			err = runTaskInternal(ctx, cmd.Task, tasks, force)
			if err != nil {
				return err
			}
		case *TaskCmdTransform:
			buildlog.Log(ctx).Info().
				Str("task", task.Short).
				Msg(cmd.Describe())

			if opts.DryRun {
				continue
			}

			transformer := pipeline.Transformer{
				Env:      cmd.Env,
				Version:  opts.Version,
				Compress: opts.Compress,
			}
			_, err = transformer.TransformTree(ctx, cmd.Src, cmd.Dest, opts.Exclude)
			if err != nil {
				return eris.Wrapf(err, "Task %s failed", task.Short)
			}
		default:
			return eris.Errorf("unexpected task command %+v", item)
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}
