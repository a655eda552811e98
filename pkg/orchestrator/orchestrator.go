// Package orchestrator wires project selection, dependency installation, task scripts and the
// asset pipeline into the clean, state and build steps.
package orchestrator

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ngld/distbuild/pkg/buildlog"
	"github.com/ngld/distbuild/pkg/config"
	"github.com/ngld/distbuild/pkg/selector"
	"github.com/ngld/distbuild/pkg/storage"
)

// Orchestrator holds everything the steps need
type Orchestrator struct {
	Config *config.Config
	Oracle selector.Oracle
	// Ledger records finished builds; nil disables the history
	Ledger *storage.Ledger
	// DryRun logs what would happen without touching the filesystem or running commands
	DryRun bool
	// Progress shows progress bars while transforming files
	Progress bool
	// StateFormat is the report format of the state step (text or yaml)
	StateFormat string
	Stdout      io.Writer
	Stderr      io.Writer
	Now         func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) stdout() io.Writer {
	if o.Stdout != nil {
		return o.Stdout
	}
	return os.Stdout
}

func (o *Orchestrator) stderr() io.Writer {
	if o.Stderr != nil {
		return o.Stderr
	}
	return os.Stderr
}

func (o *Orchestrator) exclude() selector.Matcher {
	return selector.NewIgnoreMatcher("", o.Config.Exclude)
}

// Graph returns the clean, state and build steps. state and build both clean first.
func (o *Orchestrator) Graph() *Graph {
	g := NewGraph()
	g.Add(&Step{
		Name: "clean",
		Desc: "Removes all build output",
		Run:  o.Clean,
	})
	g.Add(&Step{
		Name: "state",
		Desc: "Reports what build would do",
		Deps: []string{"clean"},
		Run: func(ctx context.Context) error {
			return o.State(ctx, o.stdout())
		},
	})
	g.Add(&Step{
		Name: "build",
		Desc: "Builds all recently changed projects",
		Deps: []string{"clean"},
		Run: func(ctx context.Context) error {
			_, err := o.Build(ctx)
			return err
		},
	})
	return g
}

// Clean removes the dist directory and the dist directories of all projects
func (o *Orchestrator) Clean(ctx context.Context) error {
	targets := []string{o.Config.Dist}

	if isDir(o.Config.Projects.Dir) {
		projects, err := selector.ListProjects(ctx, o.Config.Projects.Dir)
		if err != nil {
			return err
		}
		for _, project := range projects {
			targets = append(targets, filepath.Join(project, "dist"))
		}
	}

	removed := make([]string, 0, len(targets))
	for _, target := range targets {
		if _, err := os.Lstat(target); err != nil {
			if eris.Is(err, os.ErrNotExist) {
				continue
			}
			return eris.Wrapf(err, "failed to check %s", target)
		}

		if !o.DryRun {
			err := os.RemoveAll(target)
			if err != nil {
				return eris.Wrapf(err, "failed to remove %s", target)
			}
		}
		removed = append(removed, target)
	}

	buildlog.Log(ctx).Info().Strs("paths", removed).Bool("dry", o.DryRun).Msg("Cleaned")
	return nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
