package buildsys

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	starsyntax "go.starlark.net/syntax"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/distbuild/pkg/config"
)

// TaskCmd is a single step of a task: TaskCmdScript, TaskCmdTaskRef or TaskCmdTransform
type TaskCmd interface {
	Describe() string
}

// TaskCmdScript is a shell snippet
type TaskCmdScript struct {
	TaskName string
	Content  string
	Index    int
}

func (s TaskCmdScript) Describe() string {
	return s.Content
}

func (s TaskCmdScript) shellStmts(parser *syntax.Parser) ([]*syntax.Stmt, error) {
	result, err := parser.Parse(strings.NewReader(s.Content), fmt.Sprintf("%s:%d", s.TaskName, s.Index))
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse command %s", s.Content)
	}

	return result.Stmts, nil
}

// TaskCmdTaskRef runs another task in place
type TaskCmdTaskRef struct {
	Task *Task
}

func (t TaskCmdTaskRef) Describe() string {
	return "task " + t.Task.Short
}

// TaskCmdTransform copies Src to Dest through the asset pipeline
type TaskCmdTransform struct {
	Src  string
	Dest string
	Env  config.Env
}

func (t *TaskCmdTransform) Describe() string {
	return fmt.Sprintf("transform %s -> %s (%s)", t.Src, t.Dest, t.Env)
}

// Task contains the processed values passed to task() by the task script
type Task struct {
	Env          map[string]string
	Short        string
	Desc         string
	Base         string
	Inputs       []string
	Deps         []string
	SkipIfExists []string
	Outputs      []string
	Cmds         []TaskCmd
	Hidden       bool
}

// TaskList maps short names to each relevant task
type TaskList map[string]*Task

// ScriptOption is an option() declared by a script
type ScriptOption struct {
	DefaultValue starlark.String
	Help         string
}

func (o ScriptOption) Default() string {
	return o.DefaultValue.GoString()
}

// Script is the result of loading a tasks.star file
type Script struct {
	Path    string
	Tasks   TaskList
	Options map[string]ScriptOption
}

// Implement starlark.Value for *Task

func (t *Task) String() string {
	return fmt.Sprintf("<Task %s: %s>", t.Short, t.Desc)
}

func (t *Task) Type() string {
	return "task"
}

// Freeze doesn't do anything since tasks can't be modified from scripts anyway
func (t *Task) Freeze() {}

func (t *Task) Truth() starlark.Bool {
	return starlark.True
}

// Hash always fails; tasks are only passed around, never used as dict keys
func (t *Task) Hash() (uint32, error) {
	return 0, eris.New("task is not a hashable type")
}

// Implement starlark.Value for *TaskCmdTransform

func (t *TaskCmdTransform) String() string {
	return "<" + t.Describe() + ">"
}

func (t *TaskCmdTransform) Type() string {
	return "transform"
}

func (t *TaskCmdTransform) Freeze() {}

func (t *TaskCmdTransform) Truth() starlark.Bool {
	return starlark.True
}

func (t *TaskCmdTransform) Hash() (uint32, error) {
	return 0, eris.New("transform is not a hashable type")
}

// StarlarkPath is a path returned by resolve_path(). Shell commands receive it relative to the
// task's base directory.
type StarlarkPath string

func (p StarlarkPath) String() string {
	return starlark.String(p).String()
}

func (p StarlarkPath) Type() string {
	return "path"
}

func (p StarlarkPath) Freeze() {}

func (p StarlarkPath) Truth() starlark.Bool {
	return p != ""
}

func (p StarlarkPath) Hash() (uint32, error) {
	return starlark.String(p).Hash()
}

func (p StarlarkPath) CompareSameType(op starsyntax.Token, y_ starlark.Value, depth int) (bool, error) {
	y := y_.(StarlarkPath)

	switch op {
	case starsyntax.EQL:
		return p == y, nil
	case starsyntax.NEQ:
		return p != y, nil
	case starsyntax.LT:
		return p < y, nil
	case starsyntax.LE:
		return p <= y, nil
	case starsyntax.GT:
		return p > y, nil
	case starsyntax.GE:
		return p >= y, nil
	}

	return false, eris.Errorf("unknown operator %v", op)
}
