package domain

import "testing"

func TestSanitizeLabel(t *testing.T) {
	cases := map[string]string{
		"  Fever  ": "Fever",
		"":          "",
		"   ":       "",
		"nan":       "",
		"NaN":       "",
		" None ":    "",
		"null":      "",
		"n/a":       "",
		"nano":      "nano",
	}
	for in, want := range cases {
		if got := SanitizeLabel(in); got != want {
			t.Fatalf("SanitizeLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSortBySlotPutsAbsentSlotsLast(t *testing.T) {
	nodes := []Node{
		{ID: 4},
		{ID: 3, Slot: IntPtr(2)},
		{ID: 1},
		{ID: 2, Slot: IntPtr(1)},
		{ID: 5, Slot: IntPtr(2)},
	}
	SortBySlot(nodes)
	want := []int64{2, 3, 5, 1, 4}
	for i, id := range want {
		if nodes[i].ID != id {
			t.Fatalf("position %d: expected id %d, got %d (%+v)", i, id, nodes[i].ID, nodes)
		}
	}
}

func TestSortNodesDepthLabelID(t *testing.T) {
	nodes := []Node{
		{ID: 9, Depth: 1, Label: "a"},
		{ID: 3, Depth: 0, Label: "z"},
		{ID: 2, Depth: 1, Label: "a"},
		{ID: 1, Depth: 1, Label: "b"},
	}
	SortNodes(nodes)
	want := []int64{3, 2, 9, 1}
	for i, id := range want {
		if nodes[i].ID != id {
			t.Fatalf("position %d: expected id %d, got %d", i, id, nodes[i].ID)
		}
	}
}

func TestNodeCloneIsDeep(t *testing.T) {
	n := Node{ID: 2, ParentID: Int64Ptr(1), Slot: IntPtr(3)}
	cp := n.Clone()
	*cp.ParentID = 9
	*cp.Slot = 5
	if *n.ParentID != 1 || *n.Slot != 3 {
		t.Fatalf("clone shares pointers with original")
	}
}

func TestHasParentMatchesRoots(t *testing.T) {
	root := Node{ID: 1}
	child := Node{ID: 2, ParentID: Int64Ptr(1)}
	if !root.HasParent(nil) || root.HasParent(Int64Ptr(1)) {
		t.Fatalf("root parent matching is wrong")
	}
	if child.HasParent(nil) || !child.HasParent(Int64Ptr(1)) || child.HasParent(Int64Ptr(3)) {
		t.Fatalf("child parent matching is wrong")
	}
}

func TestChildSpecRoundTripsNode(t *testing.T) {
	n := Node{ID: 8, ParentID: Int64Ptr(2), Label: "Cough", Depth: 2, Slot: IntPtr(4), IsLeaf: true}
	spec := n.Spec()
	back := spec.Node()
	if back.ID != 8 || back.ParentValue() != 2 || back.SlotValue() != 4 || back.Label != "Cough" || !back.IsLeaf || back.Depth != 2 {
		t.Fatalf("unexpected node from spec: %+v", back)
	}
	if (ChildSpec{Label: "x"}).SlotPtr() != nil {
		t.Fatalf("zero slot must map to absent")
	}
}

func TestDraftCloneAndEditable(t *testing.T) {
	d := Draft{ID: "d1", Status: DraftStatusDraft, TargetChildren: []ChildSpec{{ID: Int64Ptr(3), Label: "A", Slot: 1}}}
	cp := d.Clone()
	*cp.TargetChildren[0].ID = 99
	if *d.TargetChildren[0].ID != 3 {
		t.Fatalf("draft clone shares target children")
	}
	if !d.Editable() {
		t.Fatalf("draft status should be editable")
	}
	d.Status = DraftStatusPublished
	if d.Editable() {
		t.Fatalf("published draft must not be editable")
	}
}

func TestAuditOperationValid(t *testing.T) {
	if !AuditApplyDefault.Valid() {
		t.Fatalf("apply-default should be valid")
	}
	if AuditOperation("rename").Valid() {
		t.Fatalf("unknown kind should be invalid")
	}
}
