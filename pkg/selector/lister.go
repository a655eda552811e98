package selector

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
)

// DirLister lists subdirectories on the local filesystem in name order.
type DirLister struct {
	Exclude Matcher
}

// ListChildren implements Lister
func (l DirLister) ListChildren(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read directory %s", path)
	}

	base := DirPath(path)
	result := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		child := base + entry.Name() + "/"
		if l.Exclude != nil && l.Exclude.Match(child, true) {
			continue
		}

		result = append(result, child)
	}

	return result, nil
}

// ListProjects returns every project directory inside dir, i.e. the old projects/*/ glob.
func ListProjects(ctx context.Context, dir string) ([]string, error) {
	return DirLister{}.ListChildren(ctx, dir)
}
