package core

import (
	"sort"

	"triagetree/pkg/domain"
)

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in tree invariants.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewSlotIntegrityRule())
	engine.Register(NewDepthIntegrityRule())
	engine.Register(NewChildCapacityRule())
	engine.Register(NewSiblingLabelsRule())
	return engine
}

// touchedNodes returns the ids of nodes created or updated by changes, and
// the parents they were attached to before and after the change.
func touchedNodes(changes []domain.Change) (nodes []int64, parents []int64) {
	nodeSet := make(map[int64]struct{})
	parentSet := make(map[int64]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntityNode {
			continue
		}
		if before, ok := change.Before.(domain.Node); ok && before.ParentID != nil {
			parentSet[*before.ParentID] = struct{}{}
		}
		after, ok := change.After.(domain.Node)
		if !ok {
			continue
		}
		nodeSet[after.ID] = struct{}{}
		if after.ParentID != nil {
			parentSet[*after.ParentID] = struct{}{}
		}
	}
	return sortedKeys(nodeSet), sortedKeys(parentSet)
}

func sortedKeys(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
