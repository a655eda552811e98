package selector

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ngld/distbuild/pkg/buildlog"
)

// SelectChangedPaths walks root up to maxDepth levels and returns the selectors covering
// exactly the subtrees the oracle considers changed. An unchanged root yields an empty list.
func SelectChangedPaths(ctx context.Context, root string, maxDepth int, since time.Time, oracle Oracle, lister Lister) ([]Selector, error) {
	tree, err := BuildTree(ctx, root, maxDepth, since, oracle, lister)
	if err != nil {
		return nil, err
	}

	return Flatten(tree), nil
}

// BuildTree queries the oracle for root and, while the depth budget allows it, for every
// subdirectory of a changed directory. The root is at depth 1.
func BuildTree(ctx context.Context, root string, maxDepth int, since time.Time, oracle Oracle, lister Lister) (*PathNode, error) {
	if maxDepth < 1 {
		return nil, eris.Errorf("invalid max depth %d, must be at least 1", maxDepth)
	}

	return buildNode(ctx, DirPath(root), 1, maxDepth, since, oracle, lister)
}

func buildNode(ctx context.Context, path string, depth, maxDepth int, since time.Time, oracle Oracle, lister Lister) (*PathNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	changed, err := oracle.ChangedSince(ctx, path, since)
	if err != nil {
		return nil, err
	}

	node := &PathNode{Path: path, HasRecentChange: changed}
	if !changed {
		buildlog.Log(ctx).Debug().Str("path", path).Int("depth", depth).Msg("unchanged, skipping subtree")
		return node, nil
	}

	// The last queried level is maxDepth; its subdirectories are never discovered.
	if depth >= maxDepth {
		return node, nil
	}

	children, err := lister.ListChildren(ctx, path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to list subdirectories of %s", path)
	}

	for _, child := range children {
		childNode, err := buildNode(ctx, DirPath(child), depth+1, maxDepth, since, oracle, lister)
		if err != nil {
			return nil, err
		}

		node.Children = append(node.Children, childNode)
	}

	return node, nil
}

// Flatten turns a tree into selectors. Unchanged nodes produce nothing. A changed node without
// children (a leaf or a depth-limited node) produces AllUnder; a changed node with children
// produces DirectChildrenOf followed by its children's selectors.
func Flatten(node *PathNode) []Selector {
	return appendSelectors(make([]Selector, 0), node)
}

func appendSelectors(result []Selector, node *PathNode) []Selector {
	if node == nil || !node.HasRecentChange {
		return result
	}

	if len(node.Children) == 0 {
		return append(result, Selector{Kind: AllUnder, Path: node.Path})
	}

	result = append(result, Selector{Kind: DirectChildrenOf, Path: node.Path})
	for _, child := range node.Children {
		result = appendSelectors(result, child)
	}

	return result
}
