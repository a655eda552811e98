package selector

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Oracle answers whether anything beneath path changed after since.
type Oracle interface {
	ChangedSince(ctx context.Context, path string, since time.Time) (bool, error)
}

// OracleFunc adapts a plain function to the Oracle interface
type OracleFunc func(ctx context.Context, path string, since time.Time) (bool, error)

func (f OracleFunc) ChangedSince(ctx context.Context, path string, since time.Time) (bool, error) {
	return f(ctx, path, since)
}

// Lister returns the immediate subdirectories of path in a stable order.
type Lister interface {
	ListChildren(ctx context.Context, path string) ([]string, error)
}

// ListerFunc adapts a plain function to the Lister interface
type ListerFunc func(ctx context.Context, path string) ([]string, error)

func (f ListerFunc) ListChildren(ctx context.Context, path string) ([]string, error) {
	return f(ctx, path)
}

// PathNode records the oracle's answer for a single directory.
// Children are only populated for changed nodes that were above the depth limit.
type PathNode struct {
	Path            string
	HasRecentChange bool
	Children        []*PathNode
}

// Kind distinguishes the two selector types
type Kind int

const (
	// AllUnder selects every file and directory beneath a path
	AllUnder Kind = iota + 1
	// DirectChildrenOf selects only the immediate files of a path
	DirectChildrenOf
)

func (k Kind) String() string {
	switch k {
	case AllUnder:
		return "AllUnder"
	case DirectChildrenOf:
		return "DirectChildrenOf"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Selector tells the copy stage which files to pick up.
type Selector struct {
	Kind Kind
	Path string
}

// Glob renders the selector the way the old gulp sources were written
func (s Selector) Glob() string {
	if s.Kind == DirectChildrenOf {
		return s.Path + "*"
	}
	return s.Path + "**"
}

func (s Selector) String() string {
	return fmt.Sprintf("%s(%s)", s.Kind, s.Path)
}

// MarshalText encodes the selector as its glob
func (s Selector) MarshalText() ([]byte, error) {
	return []byte(s.Glob()), nil
}

// UnmarshalText parses a glob produced by MarshalText
func (s *Selector) UnmarshalText(text []byte) error {
	value := string(text)
	switch {
	case strings.HasSuffix(value, "/**"):
		s.Kind = AllUnder
		s.Path = value[:len(value)-2]
	case strings.HasSuffix(value, "/*"):
		s.Kind = DirectChildrenOf
		s.Path = value[:len(value)-1]
	default:
		return eris.Errorf("invalid selector %q", value)
	}

	return nil
}

// DirPath normalizes a directory path to forward slashes with a trailing separator.
func DirPath(path string) string {
	path = filepath.ToSlash(filepath.Clean(path))
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path
}
