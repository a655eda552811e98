package orchestrator

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ngld/distbuild/pkg/buildlog"
	"github.com/ngld/distbuild/pkg/selector"
)

// Action is a single thing build does for a project
type Action string

const (
	ActionInstall   Action = "install"
	ActionTask      Action = "task"
	ActionCopyDist  Action = "copy-dist"
	ActionTransform Action = "transform"
)

// ProjectPlan describes how a valid project is built
type ProjectPlan struct {
	Name      string               `yaml:"name"`
	Path      string               `yaml:"path"`
	Kind      selector.ProjectKind `yaml:"kind"`
	Actions   []Action             `yaml:"actions"`
	Selectors []selector.Selector  `yaml:"selectors,omitempty"`
	Dest      string               `yaml:"dest"`
}

// Plan lists the projects a build would touch
type Plan struct {
	Since    time.Time      `yaml:"since"`
	Projects []*ProjectPlan `yaml:"projects"`
}

// Plan selects the valid projects, classifies them and, for plain projects, selects the changed
// paths. Nothing is modified.
func (o *Orchestrator) Plan(ctx context.Context) (*Plan, error) {
	cfg := o.Config
	since := cfg.Since(o.now())

	ignore, err := selector.LoadIgnoreFile(cfg.Projects.IgnoreFile, cfg.Projects.Dir)
	if err != nil {
		return nil, err
	}

	projects, err := selector.ListProjects(ctx, cfg.Projects.Dir)
	if err != nil {
		return nil, err
	}

	valid, err := selector.SelectValidProjects(ctx, projects, ignore, o.Oracle, since)
	if err != nil {
		return nil, err
	}

	lister := selector.DirLister{Exclude: o.exclude()}
	plan := &Plan{
		Since:    since,
		Projects: make([]*ProjectPlan, 0, len(valid)),
	}
	for _, project := range valid {
		markers, err := selector.Classify(project)
		if err != nil {
			return nil, err
		}

		name := filepath.Base(filepath.Clean(project))
		item := &ProjectPlan{
			Name:    name,
			Path:    project,
			Kind:    markers.Kind(),
			Actions: make([]Action, 0, 3),
			Dest:    filepath.ToSlash(filepath.Join(cfg.Dist, name)),
		}

		if item.Kind == selector.Delegated {
			if markers.HasPackageFile {
				item.Actions = append(item.Actions, ActionInstall)
			}
			if markers.HasTaskFile {
				item.Actions = append(item.Actions, ActionTask)
			}
			item.Actions = append(item.Actions, ActionCopyDist)
		} else {
			item.Selectors, err = selector.SelectChangedPaths(ctx, project, cfg.MaxDepth, since, o.Oracle, lister)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to select paths in %s", project)
			}
			item.Actions = append(item.Actions, ActionTransform)
		}

		buildlog.Log(ctx).Debug().
			Str("project", project).
			Stringer("kind", item.Kind).
			Int("selectors", len(item.Selectors)).
			Msg("Planned")
		plan.Projects = append(plan.Projects, item)
	}

	return plan, nil
}
