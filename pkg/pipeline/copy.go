package pipeline

import (
	"os"
	"path/filepath"

	"github.com/otiai10/copy"
	"github.com/rotisserie/eris"

	"github.com/ngld/distbuild/pkg/selector"
)

// CopyTree copies the directory src to dest. Entries matched by exclude are skipped.
func CopyTree(src, dest string, exclude selector.Matcher) error {
	if _, err := os.Stat(src); err != nil {
		return eris.Wrapf(err, "failed to copy %s", src)
	}

	base := filepath.Clean(src)
	err := copy.Copy(src, dest, copy.Options{
		OnSymlink: func(string) copy.SymlinkAction {
			return copy.Deep
		},
		Skip: func(info os.FileInfo, path, _ string) (bool, error) {
			if exclude == nil || filepath.Clean(path) == base {
				return false, nil
			}

			if info.IsDir() {
				return exclude.Match(filepath.ToSlash(path)+"/", true), nil
			}
			return exclude.Match(filepath.ToSlash(path), false), nil
		},
	})
	if err != nil {
		return eris.Wrapf(err, "failed to copy %s to %s", src, dest)
	}

	return nil
}
