// Package pipeline expands selectors into files and moves them into the dist directory,
// minifying and versioning assets on the way.
package pipeline

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/ngld/distbuild/pkg/selector"
)

// Resolve expands selectors into the list of files they cover. AllUnder selects files
// recursively, DirectChildrenOf only the files directly inside the directory. Files matched
// by exclude (and everything inside excluded directories) are skipped. Symlinks to files are
// selected like files; symlinked directories are not descended into.
func Resolve(selectors []selector.Selector, exclude selector.Matcher) ([]string, error) {
	seen := make(map[string]bool)
	result := make([]string, 0)
	add := func(path string) {
		path = filepath.ToSlash(path)
		if !seen[path] {
			seen[path] = true
			result = append(result, path)
		}
	}

	for _, sel := range selectors {
		switch sel.Kind {
		case selector.AllUnder:
			err := filepath.WalkDir(sel.Path, func(path string, entry fs.DirEntry, err error) error {
				if err != nil {
					return err
				}

				if entry.IsDir() {
					if path != sel.Path && isExcluded(exclude, path+"/", true) {
						return filepath.SkipDir
					}
					return nil
				}

				if isRegularFile(path, entry) && !isExcluded(exclude, path, false) {
					add(path)
				}
				return nil
			})
			if err != nil {
				return nil, eris.Wrapf(err, "failed to resolve %s", sel.Glob())
			}
		case selector.DirectChildrenOf:
			entries, err := os.ReadDir(sel.Path)
			if err != nil {
				return nil, eris.Wrapf(err, "failed to resolve %s", sel.Glob())
			}

			for _, entry := range entries {
				path := sel.Path + entry.Name()
				if isRegularFile(path, entry) && !isExcluded(exclude, path, false) {
					add(path)
				}
			}
		default:
			return nil, eris.Errorf("unknown selector kind %v", sel.Kind)
		}
	}

	return result, nil
}

func isExcluded(exclude selector.Matcher, path string, isDir bool) bool {
	return exclude != nil && exclude.Match(path, isDir)
}

// isRegularFile follows symlinks; anything that isn't a regular file in the end is skipped.
func isRegularFile(path string, entry fs.DirEntry) bool {
	if entry.Type().IsRegular() {
		return true
	}

	if entry.Type()&fs.ModeSymlink == 0 {
		return false
	}

	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
