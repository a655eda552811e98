package selector

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ngld/distbuild/pkg/buildlog"
)

const (
	// PackageFile marks a project whose dependencies have to be installed
	PackageFile = "package.json"
	// TaskFile marks a project with its own build script
	TaskFile = "tasks.star"
)

// ProjectKind says how a valid project ends up in the dist directory
type ProjectKind int

const (
	// PlainCopy projects are copied (and transformed) file by file
	PlainCopy ProjectKind = iota
	// Delegated projects build themselves and we only collect their dist directory
	Delegated
)

func (k ProjectKind) String() string {
	if k == Delegated {
		return "delegated"
	}
	return "plain"
}

// MarshalText encodes the kind by name
func (k ProjectKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind produced by MarshalText
func (k *ProjectKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "delegated":
		*k = Delegated
	case "plain":
		*k = PlainCopy
	default:
		return eris.Errorf("unknown project kind %q", text)
	}
	return nil
}

// ProjectConfig lists the build configuration files present in a project
type ProjectConfig struct {
	HasPackageFile bool
	HasTaskFile    bool
}

// Kind derives the project kind from the marker files
func (c ProjectConfig) Kind() ProjectKind {
	if c.HasPackageFile || c.HasTaskFile {
		return Delegated
	}
	return PlainCopy
}

// Classify checks which marker files exist in project
func Classify(project string) (ProjectConfig, error) {
	var cfg ProjectConfig
	var err error

	cfg.HasPackageFile, err = isFile(filepath.Join(project, PackageFile))
	if err != nil {
		return cfg, err
	}

	cfg.HasTaskFile, err = isFile(filepath.Join(project, TaskFile))
	return cfg, err
}

func isFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, eris.Wrapf(err, "failed to check %s", path)
	}

	return info.Mode().IsRegular(), nil
}

// SelectValidProjects drops ignored projects and returns those the oracle considers changed,
// preserving their order. There is no recursion; each project is queried exactly once.
func SelectValidProjects(ctx context.Context, projects []string, ignore Matcher, oracle Oracle, since time.Time) ([]string, error) {
	valid := make([]string, 0, len(projects))
	for _, project := range projects {
		if ignore != nil && ignore.Match(project, true) {
			buildlog.Log(ctx).Debug().Str("project", project).Msg("ignored")
			continue
		}

		changed, err := oracle.ChangedSince(ctx, project, since)
		if err != nil {
			return nil, err
		}

		if changed {
			valid = append(valid, project)
		} else {
			buildlog.Log(ctx).Debug().Str("project", project).Msg("no recent changes")
		}
	}

	return valid, nil
}
