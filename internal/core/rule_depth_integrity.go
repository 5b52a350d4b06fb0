package core

import (
	"context"
	"fmt"

	"triagetree/pkg/domain"
)

const ruleDepthIntegrity = "depth_integrity"

// NewDepthIntegrityRule blocks commits that create a node, or move or
// re-depth one, without a live parent exactly one level above it.
func NewDepthIntegrityRule() domain.Rule {
	return depthIntegrityRule{}
}

type depthIntegrityRule struct{}

func (depthIntegrityRule) Name() string { return ruleDepthIntegrity }

func (depthIntegrityRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	checked := make(map[int64]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntityNode {
			continue
		}
		after, ok := change.After.(domain.Node)
		if !ok {
			continue
		}
		if before, ok := change.Before.(domain.Node); ok {
			if before.Depth == after.Depth && before.ParentValue() == after.ParentValue() {
				continue
			}
		}
		if _, done := checked[after.ID]; done {
			continue
		}
		checked[after.ID] = struct{}{}
		node, ok := view.FindNode(after.ID)
		if !ok {
			continue
		}
		if msg := depthProblem(view, node); msg != "" {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     ruleDepthIntegrity,
				Severity: domain.SeverityBlock,
				Message:  msg,
				Entity:   domain.EntityNode,
				EntityID: formatID(node.ID),
			})
		}
	}
	return res, nil
}

func depthProblem(view domain.TransactionView, node domain.Node) string {
	if node.Depth < 0 || node.Depth > domain.MaxDepth {
		return fmt.Sprintf("node %d depth %d outside 0..%d", node.ID, node.Depth, domain.MaxDepth)
	}
	if node.ParentID == nil {
		if node.Depth != 0 {
			return fmt.Sprintf("root %d has depth %d", node.ID, node.Depth)
		}
		return ""
	}
	parent, ok := view.FindNode(*node.ParentID)
	if !ok {
		return fmt.Sprintf("node %d references missing parent %d", node.ID, *node.ParentID)
	}
	if node.Depth != parent.Depth+1 {
		return fmt.Sprintf("node %d depth %d does not follow parent %d depth %d", node.ID, node.Depth, parent.ID, parent.Depth)
	}
	return ""
}
