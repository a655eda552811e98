// Package shell runs POSIX shell snippets through mvdan.cc/sh so that commands behave the same
// on every platform, including Windows.
package shell

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/simplifiedchinese"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/ngld/distbuild/pkg/buildlog"
)

// SelfExecutable is the binary that provides the portable mv, rm and mkdir commands.
// If it's empty, these commands are resolved through PATH like everything else.
var SelfExecutable string

// Options configure a single Run call
type Options struct {
	Dir string
	Env map[string]string
	// FixEncoding decodes the output as GBK (the default code page of a Chinese Windows console)
	FixEncoding bool
	// Stdout and Stderr additionally receive the output while the command runs
	Stdout io.Writer
	Stderr io.Writer
}

// Result contains the captured output of a finished script
type Result struct {
	Stdout string
	Stderr string
	Status int
}

// Failed reports whether the script exited with an error and explained why on stderr
func (r *Result) Failed() bool {
	return r.Status != 0 && len(r.Stderr) > 0
}

// CommandError is returned by Check for failed scripts
type CommandError struct {
	Script string
	Dir    string
	Status int
	Stderr string
}

var _ error = (*CommandError)(nil)

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s (in %s) failed with status %d:\n%s", e.Script, e.Dir, e.Status, e.Stderr)
}

// Environ merges the process environment with overrides. Overridden entries replace the
// original ones instead of being appended twice.
func Environ(overrides map[string]string) []string {
	osEnv := os.Environ()
	result := make([]string, 0, len(osEnv)+len(overrides))
	for _, item := range osEnv {
		parts := strings.SplitN(item, "=", 2)
		if runtime.GOOS == "windows" {
			parts[0] = strings.ToUpper(parts[0])
		}

		if _, present := overrides[parts[0]]; !present {
			result = append(result, item)
		}
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		result = append(result, fmt.Sprintf("%s=%s", k, overrides[k]))
	}

	return result
}

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

// ExecHandler routes mv, rm and mkdir to SelfExecutable
func ExecHandler(ctx context.Context, args []string) error {
	if len(args) > 0 && SelfExecutable != "" {
		switch args[0] {
		case "mv", "rm", "mkdir":
			// always use our cross-platform implementation for these operations to make sure
			// they behave consistently
			args = append([]string{SelfExecutable}, args...)
		}
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

// OpenHandler maps /dev/null to the platform's null device
func OpenHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

// NewRunner creates an interpreter with the handlers above. The script stops at the first
// failing command.
func NewRunner(dir string, env []string, stdout, stderr io.Writer) (*interp.Runner, error) {
	runner, err := interp.New(
		interp.Dir(dir),
		interp.Env(expand.ListEnviron(env...)),
		interp.ExecHandler(ExecHandler),
		interp.OpenHandler(OpenHandler),
		interp.StdIO(nil, stdout, stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return nil, eris.Wrap(err, "failed to initialize runner")
	}

	return runner, nil
}

// Run executes script and captures its output. A non-zero exit status is not an error here;
// it's reported in Result.Status so the caller can decide (see Check).
func Run(ctx context.Context, script string, opts Options) (*Result, error) {
	file, err := syntax.NewParser().Parse(strings.NewReader(script), "script")
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse command %s", script)
	}

	dir := opts.Dir
	if dir == "" {
		dir = "."
	}

	stdout := strings.Builder{}
	stderr := strings.Builder{}
	var outWriter io.Writer = &stdout
	var errWriter io.Writer = &stderr
	if opts.Stdout != nil {
		outWriter = io.MultiWriter(&stdout, opts.Stdout)
	}
	if opts.Stderr != nil {
		errWriter = io.MultiWriter(&stderr, opts.Stderr)
	}

	runner, err := NewRunner(dir, Environ(opts.Env), outWriter, errWriter)
	if err != nil {
		return nil, err
	}

	buildlog.Log(ctx).Debug().Str("dir", dir).Bool("command", true).Msg(script)

	result := &Result{}
	err = runner.Run(ctx, file)
	if err != nil {
		status, ok := interp.IsExitStatus(err)
		if !ok {
			return nil, eris.Wrapf(err, "failed to run %s", script)
		}
		result.Status = int(status)
	}

	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	if opts.FixEncoding {
		result.Stdout = decodeGBK(result.Stdout)
		result.Stderr = decodeGBK(result.Stderr)
	}

	return result, nil
}

// Check runs script and turns a failure into a CommandError
func Check(ctx context.Context, script string, opts Options) (*Result, error) {
	result, err := Run(ctx, script, opts)
	if err != nil {
		return nil, err
	}

	if result.Failed() {
		return result, &CommandError{
			Script: script,
			Dir:    opts.Dir,
			Status: result.Status,
			Stderr: result.Stderr,
		}
	}

	return result, nil
}

func decodeGBK(value string) string {
	decoded, err := simplifiedchinese.GBK.NewDecoder().String(value)
	if err != nil {
		return value
	}
	return decoded
}
