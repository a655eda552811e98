package orchestrator

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/ngld/distbuild/pkg/buildlog"
)

// Step is a named unit of work with dependencies
type Step struct {
	Name string
	Desc string
	Deps []string
	Run  func(ctx context.Context) error
}

// Graph runs steps after their dependencies. Within one Run call, every step executes at most once.
type Graph struct {
	steps map[string]*Step
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{steps: make(map[string]*Step)}
}

// Add registers a step. Adding a step with an existing name replaces it.
func (g *Graph) Add(step *Step) {
	g.steps[step.Name] = step
}

// Steps returns all steps sorted by name
func (g *Graph) Steps() []*Step {
	result := make([]*Step, 0, len(g.steps))
	for _, step := range g.steps {
		result = append(result, step)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}

// Run executes the named steps (and their dependencies) in order
func (g *Graph) Run(ctx context.Context, names ...string) error {
	done := make(map[string]bool)
	for _, name := range names {
		err := g.run(ctx, name, done)
		if err != nil {
			return err
		}
	}
	return nil
}

// done maps names to true once finished and to false while running
func (g *Graph) run(ctx context.Context, name string, done map[string]bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	finished, seen := done[name]
	if seen {
		if finished {
			buildlog.Log(ctx).Debug().Msgf("Step %s already run", name)
			return nil
		}
		return eris.Errorf("Step %s was called recursively", name)
	}

	step, ok := g.steps[name]
	if !ok {
		return eris.Errorf("Step %s not found", name)
	}

	done[name] = false
	for _, dep := range step.Deps {
		err := g.run(ctx, dep, done)
		if err != nil {
			return eris.Wrapf(err, "Step %s failed due to its dependency %s", name, dep)
		}
	}

	buildlog.Log(ctx).Debug().Str("step", name).Msg("Starting")
	if step.Run != nil {
		err := step.Run(ctx)
		if err != nil {
			return err
		}
	}

	done[name] = true
	return nil
}
