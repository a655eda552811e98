package vcs

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/rotisserie/eris"

	"github.com/ngld/distbuild/pkg/buildlog"
	"github.com/ngld/distbuild/pkg/selector"
)

// NativeOracle reads the history in-process through go-git; no git binary is required.
type NativeOracle struct {
	repo *git.Repository
	root string
}

var _ selector.Oracle = (*NativeOracle)(nil)

// OpenNative opens the repository containing dir
func OpenNative(dir string) (*NativeOracle, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open the repository containing %s", dir)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, eris.Wrap(err, "failed to access worktree")
	}

	root, err := realPath(wt.Filesystem.Root())
	if err != nil {
		return nil, err
	}

	return &NativeOracle{repo: repo, root: root}, nil
}

func realPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", eris.Wrapf(err, "failed to resolve %s", path)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", eris.Wrapf(err, "failed to resolve %s", path)
	}

	return resolved, nil
}

// ChangedSince implements selector.Oracle
func (o *NativeOracle) ChangedSince(ctx context.Context, path string, since time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	abs, err := realPath(path)
	if err != nil {
		return false, err
	}

	rel, err := filepath.Rel(o.root, abs)
	if err != nil {
		return false, eris.Wrapf(err, "failed to resolve %s", path)
	}

	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return false, &selector.OracleError{
			Path:       path,
			Status:     128,
			Diagnostic: "fatal: " + path + " is outside repository at " + o.root,
		}
	}

	prefix := ""
	if rel != "." {
		prefix = rel + "/"
	}

	iter, err := o.repo.Log(&git.LogOptions{
		Since: &since,
		PathFilter: func(file string) bool {
			return prefix == "" || file == rel || strings.HasPrefix(file, prefix)
		},
	})
	if err != nil {
		return false, &selector.OracleError{Path: path, Status: 128, Diagnostic: err.Error()}
	}
	defer iter.Close()

	commit, err := iter.Next()
	if err != nil {
		if err == io.EOF {
			buildlog.Log(ctx).Debug().Str("path", path).Msg("no output")
			return false, nil
		}
		return false, &selector.OracleError{Path: path, Status: 128, Diagnostic: err.Error()}
	}

	buildlog.Log(ctx).Debug().
		Str("path", path).
		Str("commit", commit.Hash.String()).
		Time("when", commit.Committer.When).
		Msg("recent change found")
	return true, nil
}
