package core

import (
	"context"
	"fmt"

	"triagetree/pkg/domain"
)

// NewSiblingLabelsRule warns when a touched parent carries two children with
// the same label.
func NewSiblingLabelsRule() domain.Rule {
	return siblingLabelsRule{}
}

type siblingLabelsRule struct{}

func (siblingLabelsRule) Name() string { return "sibling_labels" }

func (siblingLabelsRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	_, parents := touchedNodes(changes)
	for _, parentID := range parents {
		seen := make(map[string]int64)
		for _, child := range view.ListChildren(&parentID) {
			key := labelKey(child.Label)
			first, dup := seen[key]
			if !dup {
				seen[key] = child.ID
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "sibling_labels",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("parent %d has duplicate label %q on nodes %d and %d", parentID, child.Label, first, child.ID),
				Entity:   domain.EntityNode,
				EntityID: formatID(parentID),
			})
		}
	}
	return res, nil
}
