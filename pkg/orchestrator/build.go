package orchestrator

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/ngld/distbuild/pkg/buildlog"
	"github.com/ngld/distbuild/pkg/buildsys"
	"github.com/ngld/distbuild/pkg/config"
	"github.com/ngld/distbuild/pkg/pipeline"
	"github.com/ngld/distbuild/pkg/selector"
	"github.com/ngld/distbuild/pkg/shell"
	"github.com/ngld/distbuild/pkg/storage"
)

// BuildTask is the tasks.star task run for delegated projects
const BuildTask = "build"

type buildCtx struct {
	env     config.Env
	version string
	exclude selector.Matcher
}

// Build builds every valid project into the dist directory. The environment is validated before
// anything else happens.
func (o *Orchestrator) Build(ctx context.Context) (*storage.BuildRecord, error) {
	env, err := o.Config.Environment()
	if err != nil {
		return nil, err
	}

	started := o.now()
	bctx := &buildCtx{
		env:     env,
		version: o.Config.VersionToken(started),
		exclude: o.exclude(),
	}
	buildlog.Log(ctx).Info().Str("env", string(env)).Str("version", bctx.version).Msg("Starting build")

	plan, err := o.Plan(ctx)
	if err != nil {
		return nil, err
	}

	record := &storage.BuildRecord{
		Started:  started,
		Env:      string(env),
		Since:    plan.Since,
		Projects: make([]storage.ProjectRecord, 0, len(plan.Projects)),
	}

	for _, project := range plan.Projects {
		err := o.buildProject(ctx, bctx, project)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to build %s", project.Name)
		}

		record.Projects = append(record.Projects, storage.ProjectRecord{
			Name:      project.Name,
			Kind:      project.Kind,
			Selectors: project.Selectors,
		})
	}
	record.Finished = o.now()

	if o.Ledger != nil && !o.DryRun {
		err = o.Ledger.Record(ctx, record)
		if err != nil {
			return nil, err
		}
	}

	buildlog.Log(ctx).Info().
		Int("projects", len(record.Projects)).
		Dur("duration", record.Finished.Sub(record.Started)).
		Msg("Build finished")
	return record, nil
}

func (o *Orchestrator) buildProject(ctx context.Context, bctx *buildCtx, project *ProjectPlan) error {
	logger := buildlog.Log(ctx).With().Str("project", project.Name).Logger()
	ctx = buildlog.WithLogger(ctx, &logger)

	for _, action := range project.Actions {
		logger.Info().Str("action", string(action)).Bool("dry", o.DryRun).Msg("Running")
		if o.DryRun {
			continue
		}

		var err error
		switch action {
		case ActionInstall:
			err = o.installDependencies(ctx, project.Path)
		case ActionTask:
			err = o.runBuildTask(ctx, bctx, project.Path)
		case ActionCopyDist:
			err = o.copyDist(ctx, bctx, project)
		case ActionTransform:
			err = o.transform(ctx, bctx, project)
		default:
			err = eris.Errorf("unknown action %s", action)
		}
		if err != nil {
			return err
		}
	}

	if o.Config.Archive && !o.DryRun && isDir(project.Dest) {
		archive := project.Dest + ".tar.xz"
		err := pipeline.ArchiveDir(project.Dest, archive)
		if err != nil {
			return err
		}
		logger.Info().Str("archive", archive).Msg("Archived")
	}

	return nil
}

// installDependencies runs "<npm> install" in the project. Like change queries, the command only
// counts as failed if it exits with an error and writes to stderr.
func (o *Orchestrator) installDependencies(ctx context.Context, project string) error {
	result, err := shell.Check(ctx, o.Config.NPM+" install", shell.Options{
		Dir:         project,
		FixEncoding: o.Config.FixEncoding,
	})
	if err != nil {
		return err
	}

	if result.Status != 0 {
		buildlog.Log(ctx).Warn().Int("status", result.Status).Msg("Dependency installation exited silently with an error")
	}

	if result.Stdout != "" {
		buildlog.Log(ctx).Debug().Msg(result.Stdout)
	} else {
		buildlog.Log(ctx).Debug().Msg("No output")
	}
	return nil
}

func (o *Orchestrator) runBuildTask(ctx context.Context, bctx *buildCtx, project string) error {
	script, err := buildsys.LoadScript(ctx, filepath.Join(project, buildsys.TaskFile), project, map[string]string{
		"env": string(bctx.env),
	})
	if err != nil {
		return err
	}

	if _, ok := script.Tasks[BuildTask]; !ok {
		buildlog.Log(ctx).Warn().Msgf("%s has no %s task", buildsys.TaskFile, BuildTask)
		return nil
	}

	return buildsys.RunTask(ctx, script, BuildTask, buildsys.RunOptions{
		Version:  bctx.version,
		Compress: o.Config.Compress,
		Exclude:  bctx.exclude,
		Stdout:   o.stdout(),
		Stderr:   o.stderr(),
	})
}

func (o *Orchestrator) copyDist(ctx context.Context, bctx *buildCtx, project *ProjectPlan) error {
	src := filepath.Join(project.Path, "dist")
	if !isDir(src) {
		buildlog.Log(ctx).Warn().Msgf("%s does not exist, nothing to copy", src)
		return nil
	}

	err := os.MkdirAll(filepath.Dir(project.Dest), 0o770)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", filepath.Dir(project.Dest))
	}

	return pipeline.CopyTree(src, project.Dest, bctx.exclude)
}

func (o *Orchestrator) transform(ctx context.Context, bctx *buildCtx, project *ProjectPlan) error {
	files, err := pipeline.Resolve(project.Selectors, bctx.exclude)
	if err != nil {
		return err
	}

	transformer := pipeline.Transformer{
		Env:      bctx.env,
		Version:  bctx.version,
		Compress: o.Config.Compress,
		Progress: o.Progress,
	}

	stats, err := transformer.Transform(ctx, files, project.Path, project.Dest)
	if err != nil {
		return err
	}

	buildlog.Log(ctx).Info().
		Int("files", stats.Files).
		Int("minified", stats.Minified).
		Int("compressed", stats.Compressed).
		Msg("Transformed")
	return nil
}
