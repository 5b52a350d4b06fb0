package core

import (
	"context"

	"triagetree/pkg/domain"
)

// FirstFreeSlot returns the lowest slot in 1..5 not used by children. It
// reports false when every slot is taken.
func FirstFreeSlot(children []Node) (int, bool) {
	used := make(map[int]struct{}, len(children))
	for _, c := range children {
		if c.Slot != nil {
			used[*c.Slot] = struct{}{}
		}
	}
	for slot := domain.MinSlot; slot <= domain.MaxSlot; slot++ {
		if _, taken := used[slot]; !taken {
			return slot, true
		}
	}
	return 0, false
}

// FreeSlots lists the slots in 1..5 not used by children.
func FreeSlots(children []Node) []int {
	used := make(map[int]struct{}, len(children))
	for _, c := range children {
		if c.Slot != nil {
			used[*c.Slot] = struct{}{}
		}
	}
	missing := []int{}
	for slot := domain.MinSlot; slot <= domain.MaxSlot; slot++ {
		if _, taken := used[slot]; !taken {
			missing = append(missing, slot)
		}
	}
	return missing
}

// FirstFreeSlot allocates against the committed children of parentID. A
// parent already holding five children has no free slot even when some of
// them are unslotted.
func (s *Service) FirstFreeSlot(ctx context.Context, parentID int64) (int, bool, error) {
	var (
		slot int
		ok   bool
	)
	err := s.run(ctx, "first_free_slot", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			if _, err := requireParent(v, parentID); err != nil {
				return err
			}
			children := childrenOf(v, parentID)
			if len(children) >= domain.MaxChildren {
				return nil
			}
			slot, ok = FirstFreeSlot(children)
			return nil
		})
	})
	return slot, ok, err
}
