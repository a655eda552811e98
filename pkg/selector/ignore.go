package selector

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/rotisserie/eris"
)

// Matcher decides whether a path should be left out.
type Matcher interface {
	Match(path string, isDir bool) bool
}

// IgnoreMatcher matches paths against gitignore-style patterns relative to a base directory
type IgnoreMatcher struct {
	base     string
	patterns []string
	matcher  gitignore.Matcher
}

// NewIgnoreMatcher parses the given gitignore lines. Blank lines and comments are skipped.
func NewIgnoreMatcher(base string, lines []string) *IgnoreMatcher {
	patterns := make([]string, 0, len(lines))
	parsed := make([]gitignore.Pattern, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}

		patterns = append(patterns, line)
		parsed = append(parsed, gitignore.ParsePattern(line, nil))
	}

	return &IgnoreMatcher{
		base:     base,
		patterns: patterns,
		matcher:  gitignore.NewMatcher(parsed),
	}
}

// LoadIgnoreFile reads an ignore file. A missing file is treated as an empty pattern set.
func LoadIgnoreFile(file, base string) (*IgnoreMatcher, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return NewIgnoreMatcher(base, nil), nil
		}

		return nil, eris.Wrapf(err, "failed to read ignore file %s", file)
	}

	return NewIgnoreMatcher(base, strings.Split(string(data), "\n")), nil
}

// Patterns returns the effective patterns
func (m *IgnoreMatcher) Patterns() []string {
	return m.patterns
}

// Match reports whether path is ignored. Without a base, patterns apply to the path as given
// and leading "." or ".." segments are dropped; with a base, paths outside of it never match.
func (m *IgnoreMatcher) Match(path string, isDir bool) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}

	rel := filepath.Clean(path)
	if m.base != "" {
		relPath, err := filepath.Rel(m.base, rel)
		if err != nil {
			return false
		}
		rel = relPath
	}

	parts := strings.Split(strings.Trim(filepath.ToSlash(rel), "/"), "/")
	if m.base != "" && parts[0] == ".." {
		return false
	}

	for len(parts) > 0 && (parts[0] == ".." || parts[0] == ".") {
		parts = parts[1:]
	}
	if len(parts) == 0 || parts[0] == "" {
		return false
	}

	return m.matcher.Match(parts, isDir)
}
