package core

import (
	"context"
	"fmt"

	"triagetree/pkg/domain"
)

// NewChildCapacityRule warns when a parent touched by the transaction ends up
// with more than five children. Merges may leave such parents behind for an
// operator to resolve.
func NewChildCapacityRule() domain.Rule {
	return childCapacityRule{}
}

type childCapacityRule struct{}

func (childCapacityRule) Name() string { return "child_capacity" }

func (childCapacityRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	_, parents := touchedNodes(changes)
	for _, parentID := range parents {
		if _, ok := view.FindNode(parentID); !ok {
			continue
		}
		count := len(view.ListChildren(&parentID))
		if count <= domain.MaxChildren {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "child_capacity",
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("parent %d holds %d children (max %d)", parentID, count, domain.MaxChildren),
			Entity:   domain.EntityNode,
			EntityID: formatID(parentID),
		})
	}
	return res, nil
}
