// Package vcs answers "did anything below this path change recently?" using git history.
package vcs

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ngld/distbuild/pkg/buildlog"
	"github.com/ngld/distbuild/pkg/selector"
	"github.com/ngld/distbuild/pkg/shell"
)

// The path and date are passed through the environment to avoid any quoting issues.
const gitLogScript = `git log -1 "--pretty=format:%H(%ai)" "--after=$DISTBUILD_SINCE" -- "$DISTBUILD_PATH"`

// ShellOracle runs git log for every query
type ShellOracle struct {
	// Dir is the working directory for git; paths are interpreted relative to it
	Dir string
	// Timeout bounds each query; zero disables the limit
	Timeout     time.Duration
	FixEncoding bool
}

var _ selector.Oracle = (*ShellOracle)(nil)

// ChangedSince implements selector.Oracle
func (o *ShellOracle) ChangedSince(ctx context.Context, path string, since time.Time) (bool, error) {
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	result, err := shell.Run(ctx, gitLogScript, shell.Options{
		Dir: o.Dir,
		Env: map[string]string{
			"DISTBUILD_SINCE": since.UTC().Format(time.RFC3339),
			"DISTBUILD_PATH":  path,
		},
		FixEncoding: o.FixEncoding,
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if eris.Is(err, context.DeadlineExceeded) {
			return false, eris.Wrapf(err, "change query for %s timed out after %s", path, o.Timeout)
		}
		return false, eris.Wrapf(err, "change query for %s failed", path)
	}

	if result.Failed() {
		return false, &selector.OracleError{
			Path:       path,
			Status:     result.Status,
			Diagnostic: strings.TrimSpace(result.Stderr),
		}
	}

	if len(result.Stdout) > 0 {
		buildlog.Log(ctx).Debug().Str("path", path).Str("commit", result.Stdout).Msg("recent change found")
		return true, nil
	}

	buildlog.Log(ctx).Debug().Str("path", path).Msg("no output")
	return false, nil
}
