package core

import (
	"strings"

	"triagetree/pkg/domain"
)

// labelKey is the comparison key for labels: sanitized and case-folded.
func labelKey(label string) string {
	return strings.ToLower(domain.SanitizeLabel(label))
}

func sameLabel(a, b string) bool { return labelKey(a) == labelKey(b) }

func childrenOf(v TransactionView, parentID int64) []Node {
	return v.ListChildren(&parentID)
}

func hasChildren(v TransactionView, id int64) bool {
	return len(childrenOf(v, id)) > 0
}

func findByLabel(nodes []Node, label string) (Node, bool) {
	key := labelKey(label)
	for _, n := range nodes {
		if labelKey(n.Label) == key {
			return n, true
		}
	}
	return Node{}, false
}

func findBySlot(nodes []Node, slot int) (Node, bool) {
	for _, n := range nodes {
		if n.Slot != nil && *n.Slot == slot {
			return n, true
		}
	}
	return Node{}, false
}

func requireNode(v TransactionView, id int64) (Node, error) {
	n, ok := v.FindNode(id)
	if !ok {
		return Node{}, domain.NewError(domain.ErrNodeNotFound, "", map[string]any{"id": id})
	}
	return n, nil
}

func requireParent(v TransactionView, id int64) (Node, error) {
	n, ok := v.FindNode(id)
	if !ok {
		return Node{}, domain.NewError(domain.ErrParentNotFound, "", map[string]any{"parent_id": id})
	}
	return n, nil
}

// collectSubtree returns rootID and every descendant in breadth-first order.
// Chains that loop back onto a visited node are cut.
func collectSubtree(v TransactionView, rootID int64) []Node {
	root, ok := v.FindNode(rootID)
	if !ok {
		return nil
	}
	out := []Node{root}
	visited := map[int64]struct{}{root.ID: {}}
	for i := 0; i < len(out); i++ {
		for _, child := range childrenOf(v, out[i].ID) {
			if _, seen := visited[child.ID]; seen {
				continue
			}
			visited[child.ID] = struct{}{}
			out = append(out, child)
		}
	}
	return out
}

type subtreeRemoval struct {
	nodes    []Node
	outcomes int
}

// deleteSubtree removes rootID and its descendants leaf-first.
func deleteSubtree(tx Transaction, rootID int64) (subtreeRemoval, error) {
	nodes := collectSubtree(tx, rootID)
	removal := subtreeRemoval{nodes: nodes}
	for i := len(nodes) - 1; i >= 0; i-- {
		if _, ok := tx.FindOutcome(nodes[i].ID); ok {
			removal.outcomes++
		}
		if err := tx.DeleteNode(nodes[i].ID); err != nil {
			return removal, err
		}
	}
	return removal, nil
}

// reparent moves id under parent with an absent slot and rewrites the depth
// of the whole moved subtree.
func reparent(tx Transaction, id int64, parent Node) error {
	parentID := parent.ID
	if _, err := tx.UpdateNode(id, func(n *Node) error {
		n.ParentID = &parentID
		n.Slot = nil
		n.Depth = parent.Depth + 1
		return nil
	}); err != nil {
		return err
	}
	return rewriteDepths(tx, id)
}

// rewriteDepths sets every descendant of id to its parent's depth plus one.
func rewriteDepths(tx Transaction, id int64) error {
	nodes := collectSubtree(tx, id)
	depth := make(map[int64]int, len(nodes))
	for i, n := range nodes {
		if i == 0 {
			depth[n.ID] = n.Depth
			continue
		}
		want := depth[n.ParentValue()] + 1
		depth[n.ID] = want
		if n.Depth == want {
			continue
		}
		if _, err := tx.UpdateNode(n.ID, func(node *Node) error {
			node.Depth = want
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// clearLeafFlag marks a node as an inner node once it gains children.
func clearLeafFlag(tx Transaction, parent Node) error {
	if !parent.IsLeaf {
		return nil
	}
	_, err := tx.UpdateNode(parent.ID, func(n *Node) error {
		n.IsLeaf = false
		return nil
	})
	return err
}

func specs(nodes []Node) []ChildSpec {
	out := make([]ChildSpec, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Spec())
	}
	return out
}

func nodeIDs(nodes []Node) []int64 {
	out := make([]int64, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

// validateChosen sanitizes a five-label target set.
func validateChosen(chosen []string) ([]string, error) {
	if len(chosen) != domain.MaxChildren {
		return nil, domain.NewError(domain.ErrMustChooseFive, "", map[string]any{"count": len(chosen)})
	}
	out := make([]string, len(chosen))
	seen := make(map[string]int, len(chosen))
	for i, label := range chosen {
		clean := domain.SanitizeLabel(label)
		if clean == "" {
			return nil, domain.NewError(domain.ErrMustChooseFive, "", map[string]any{"position": i + 1})
		}
		key := strings.ToLower(clean)
		if first, dup := seen[key]; dup {
			return nil, domain.NewError(domain.ErrDuplicateLabels, "", map[string]any{"label": clean, "positions": []int{first + 1, i + 1}})
		}
		seen[key] = i
		out[i] = clean
	}
	return out, nil
}
