package core

import (
	"context"

	"triagetree/pkg/domain"
)

// collectPaths walks every root to each of its leaves, roots in label order
// and siblings in slot order. The walk uses an explicit stack and never
// revisits a node.
func collectPaths(v TransactionView) []PathRecord {
	type frame struct {
		node    Node
		labels  []string
		nodeIDs []int64
	}
	roots := v.ListChildren(nil)
	domain.SortNodes(roots)
	var out []PathRecord
	visited := make(map[int64]struct{})
	stack := make([]frame, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: roots[i]})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[f.node.ID]; seen {
			continue
		}
		visited[f.node.ID] = struct{}{}
		labels := append(append([]string(nil), f.labels...), f.node.Label)
		ids := append(append([]int64(nil), f.nodeIDs...), f.node.ID)
		children := childrenOf(v, f.node.ID)
		if len(children) == 0 {
			rec := PathRecord{Labels: labels, NodeIDs: ids}
			if outcome, ok := v.FindOutcome(f.node.ID); ok {
				rec.Outcome = &outcome
			}
			out = append(out, rec)
			continue
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: children[i], labels: labels, nodeIDs: ids})
		}
	}
	return out
}

// ExportPaths returns every root-to-leaf path with the leaf outcome.
func (s *Service) ExportPaths(ctx context.Context) ([]PathRecord, error) {
	var out []PathRecord
	err := s.run(ctx, "export_paths", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			out = collectPaths(v)
			return nil
		})
	})
	return out, err
}

// TreeSnapshot is a point-in-time copy of the tree and its outcomes.
type TreeSnapshot struct {
	Nodes    []Node    `json:"nodes"`
	Outcomes []Outcome `json:"outcomes"`
	Drafts   []Draft   `json:"drafts"`
}

// Snapshot returns every node, outcome and draft from a single view.
func (s *Service) Snapshot(ctx context.Context) (TreeSnapshot, error) {
	var out TreeSnapshot
	err := s.run(ctx, "snapshot", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			out = TreeSnapshot{Nodes: v.ListNodes(), Outcomes: v.ListOutcomes(), Drafts: v.ListDrafts()}
			return nil
		})
	})
	return out, err
}
