package selector

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
)

type fakeOracle struct {
	changed map[string]bool
	failing map[string]*OracleError
	queries []string
}

func (o *fakeOracle) ChangedSince(ctx context.Context, path string, since time.Time) (bool, error) {
	o.queries = append(o.queries, path)
	if err, ok := o.failing[path]; ok {
		return false, err
	}
	return o.changed[path], nil
}

type fakeLister map[string][]string

func (l fakeLister) ListChildren(ctx context.Context, path string) ([]string, error) {
	return l[path], nil
}

var since = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestSelectChangedPaths(t *testing.T) {
	tests := []struct {
		name     string
		maxDepth int
		changed  map[string]bool
		children fakeLister
		expected []Selector
	}{
		{
			name:     "stale sibling is skipped",
			maxDepth: 3,
			changed:  map[string]bool{"src/": true, "src/a/": true},
			children: fakeLister{"src/": {"src/a/", "src/b/"}},
			expected: []Selector{
				{Kind: DirectChildrenOf, Path: "src/"},
				{Kind: AllUnder, Path: "src/a/"},
			},
		},
		{
			name:     "depth one never recurses",
			maxDepth: 1,
			changed:  map[string]bool{"src/": true, "src/a/": true},
			children: fakeLister{"src/": {"src/a/"}},
			expected: []Selector{{Kind: AllUnder, Path: "src/"}},
		},
		{
			name:     "unchanged root",
			maxDepth: 3,
			changed:  map[string]bool{"src/a/": true},
			children: fakeLister{"src/": {"src/a/"}},
			expected: []Selector{},
		},
		{
			name:     "all children stale",
			maxDepth: 3,
			changed:  map[string]bool{"src/": true},
			children: fakeLister{"src/": {"src/a/", "src/b/"}},
			expected: []Selector{{Kind: DirectChildrenOf, Path: "src/"}},
		},
		{
			name:     "depth limited node becomes AllUnder",
			maxDepth: 2,
			changed:  map[string]bool{"src/": true, "src/a/": true, "src/a/x/": true},
			children: fakeLister{"src/": {"src/a/"}, "src/a/": {"src/a/x/"}},
			expected: []Selector{
				{Kind: DirectChildrenOf, Path: "src/"},
				{Kind: AllUnder, Path: "src/a/"},
			},
		},
		{
			name:     "order follows the lister",
			maxDepth: 3,
			changed:  map[string]bool{"src/": true, "src/z/": true, "src/a/": true, "src/a/m/": true},
			children: fakeLister{"src/": {"src/z/", "src/a/"}, "src/a/": {"src/a/m/"}},
			expected: []Selector{
				{Kind: DirectChildrenOf, Path: "src/"},
				{Kind: AllUnder, Path: "src/z/"},
				{Kind: DirectChildrenOf, Path: "src/a/"},
				{Kind: AllUnder, Path: "src/a/m/"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := &fakeOracle{changed: tt.changed}
			result, err := SelectChangedPaths(context.Background(), "src", tt.maxDepth, since, oracle, tt.children)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestStaleSubtreesAreNeverReferenced(t *testing.T) {
	oracle := &fakeOracle{changed: map[string]bool{
		"src/": true, "src/a/": true, "src/a/deep/": true, "src/c/": true,
	}}
	lister := fakeLister{
		"src/":   {"src/a/", "src/b/", "src/c/"},
		"src/a/": {"src/a/deep/"},
		"src/b/": {"src/b/inner/"},
	}

	result, err := SelectChangedPaths(context.Background(), "src/", 5, since, oracle, lister)
	if err != nil {
		t.Fatal(err)
	}

	for _, sel := range result {
		if strings.HasPrefix(sel.Path, "src/b/") {
			t.Errorf("selector %v references a stale subtree", sel)
		}
	}

	for _, query := range oracle.queries {
		if query == "src/b/inner/" {
			t.Error("descended into a stale directory")
		}
	}
}

func TestDepthLimitStopsQueries(t *testing.T) {
	oracle := &fakeOracle{changed: map[string]bool{"r/": true, "r/1/": true, "r/1/2/": true, "r/1/2/3/": true}}
	lister := fakeLister{"r/": {"r/1/"}, "r/1/": {"r/1/2/"}, "r/1/2/": {"r/1/2/3/"}}

	_, err := SelectChangedPaths(context.Background(), "r", 3, since, oracle, lister)
	if err != nil {
		t.Fatal(err)
	}

	expected := []string{"r/", "r/1/", "r/1/2/"}
	if !reflect.DeepEqual(oracle.queries, expected) {
		t.Errorf("queried %v, want %v", oracle.queries, expected)
	}
}

func TestSelectionIsIdempotent(t *testing.T) {
	changed := map[string]bool{"src/": true, "src/a/": true, "src/b/": true}
	lister := fakeLister{"src/": {"src/a/", "src/b/"}}

	first, err := SelectChangedPaths(context.Background(), "src", 3, since, &fakeOracle{changed: changed}, lister)
	if err != nil {
		t.Fatal(err)
	}

	second, err := SelectChangedPaths(context.Background(), "src", 3, since, &fakeOracle{changed: changed}, lister)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("selections differ: %v vs %v", first, second)
	}
}

func TestOracleFailureAborts(t *testing.T) {
	oracle := &fakeOracle{
		changed: map[string]bool{},
		failing: map[string]*OracleError{
			"src/": {Path: "src/", Status: 1, Diagnostic: "fatal: bad revision"},
		},
	}

	result, err := SelectChangedPaths(context.Background(), "src", 3, since, oracle, fakeLister{})
	if err == nil {
		t.Fatal("expected an error")
	}

	if result != nil {
		t.Errorf("expected no selectors, got %v", result)
	}

	var oracleErr *OracleError
	if !eris.As(err, &oracleErr) {
		t.Fatalf("expected an OracleError, got %T", err)
	}

	if oracleErr.Diagnostic != "fatal: bad revision" {
		t.Errorf("unexpected diagnostic %q", oracleErr.Diagnostic)
	}
}

func TestOracleFailureInSubtreeAborts(t *testing.T) {
	oracle := &fakeOracle{
		changed: map[string]bool{"src/": true, "src/a/": true},
		failing: map[string]*OracleError{"src/b/": {Path: "src/b/", Status: 128, Diagnostic: "boom"}},
	}

	result, err := SelectChangedPaths(context.Background(), "src", 3, since, oracle, fakeLister{"src/": {"src/a/", "src/b/"}})
	if err == nil || result != nil {
		t.Fatalf("expected abort without partial result, got %v / %v", result, err)
	}
}

func TestInvalidDepth(t *testing.T) {
	_, err := SelectChangedPaths(context.Background(), "src", 0, since, &fakeOracle{}, fakeLister{})
	if err == nil {
		t.Error("expected an error for depth 0")
	}
}

func TestSelectorText(t *testing.T) {
	for _, sel := range []Selector{{Kind: AllUnder, Path: "src/a/"}, {Kind: DirectChildrenOf, Path: "src/"}} {
		text, err := sel.MarshalText()
		if err != nil {
			t.Fatal(err)
		}

		var decoded Selector
		if err := decoded.UnmarshalText(text); err != nil {
			t.Fatal(err)
		}

		if decoded != sel {
			t.Errorf("%s decoded to %v", text, decoded)
		}
	}

	if (Selector{Kind: AllUnder, Path: "src/a/"}).Glob() != "src/a/**" {
		t.Error("unexpected AllUnder glob")
	}
}
