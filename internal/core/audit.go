package core

import (
	"context"
	"sort"

	"triagetree/pkg/domain"
)

// LogAudit appends one ledger entry in its own transaction and returns its id.
func (s *Service) LogAudit(ctx context.Context, rec AuditRecord) (int64, error) {
	var id int64
	err := s.run(ctx, "log_audit", func(ctx context.Context) error {
		if !rec.Operation.Valid() {
			return domain.NewError(domain.ErrInvalidOperation, "", map[string]any{"operation": rec.Operation})
		}
		return s.transact(ctx, func(tx Transaction) error {
			auditID, err := appendAudit(tx, rec)
			id = auditID
			return err
		})
	})
	return id, err
}

// AuditEntries pages the ledger newest first.
func (s *Service) AuditEntries(ctx context.Context, q AuditQuery) ([]AuditEntry, error) {
	var out []AuditEntry
	err := s.run(ctx, "audit_entries", func(ctx context.Context) error {
		if q.Operation != "" && !q.Operation.Valid() {
			return domain.NewError(domain.ErrInvalidOperation, "", map[string]any{"operation": q.Operation})
		}
		return s.view(ctx, func(v TransactionView) error {
			limit := q.Limit
			if limit <= 0 {
				limit = s.defaultLimit
			}
			if limit > s.maxLimit {
				limit = s.maxLimit
			}
			entries := v.ListAuditEntries()
			out = make([]AuditEntry, 0, limit)
			for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
				e := entries[i]
				if q.AfterID != nil && e.ID >= *q.AfterID {
					continue
				}
				if q.Operation != "" && e.Operation != q.Operation {
					continue
				}
				out = append(out, e)
			}
			return nil
		})
	})
	return out, err
}

// AuditStats aggregates the ledger.
func (s *Service) AuditStats(ctx context.Context) (domain.AuditStats, error) {
	out := domain.AuditStats{ByOperation: make(map[AuditOperation]int)}
	err := s.run(ctx, "audit_stats", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			for _, e := range v.ListAuditEntries() {
				out.Total++
				out.ByOperation[e.Operation]++
				if e.IsUndoable {
					out.Undoable++
				}
				if e.Undone() {
					out.Undone++
				}
			}
			return nil
		})
	})
	return out, err
}

// Undo reverses one apply-default entry. It reports false without an error
// when the entry is missing, already undone, or not undoable.
func (s *Service) Undo(ctx context.Context, auditID int64, actor string) (bool, error) {
	var undone bool
	err := s.run(ctx, "undo", func(ctx context.Context) error {
		entry, ok, err := s.undoCandidate(ctx, auditID)
		if err != nil || !ok {
			return err
		}
		ctx = withRestoredPlacements(ctx, entry.UndoData.RestoredSpecs())
		applied := false
		err = s.transact(ctx, func(tx Transaction) error {
			entry, ok := tx.FindAuditEntry(auditID)
			if !ok || !undoable(entry) {
				return nil
			}
			parents := entry.UndoData.Parents
			for i := len(parents) - 1; i >= 0; i-- {
				if err := restoreParent(tx, parents[i]); err != nil {
					return err
				}
			}
			now := s.now()
			if _, err := tx.UpdateAuditEntry(entry.ID, func(e *domain.AuditEntry) error {
				by := actor
				e.UndoneBy = &by
				e.UndoneAt = &now
				return nil
			}); err != nil {
				return err
			}
			applied = true
			return nil
		})
		undone = err == nil && applied
		return err
	})
	return undone, err
}

// undoCandidate reads the entry outside the write so its snapshot can mark
// the placements the restore is allowed to reproduce.
func (s *Service) undoCandidate(ctx context.Context, auditID int64) (domain.AuditEntry, bool, error) {
	var (
		entry domain.AuditEntry
		ok    bool
	)
	err := s.view(ctx, func(v TransactionView) error {
		entry, ok = v.FindAuditEntry(auditID)
		ok = ok && undoable(entry)
		return nil
	})
	return entry, ok, err
}

func undoable(entry domain.AuditEntry) bool {
	return !entry.Undone() && entry.IsUndoable && entry.UndoData != nil && entry.Operation == domain.AuditApplyDefault
}

// restoreParent puts the children of one parent back to the before snapshot,
// reusing the original ids. A parent removed since the operation is skipped.
func restoreParent(tx Transaction, snap domain.ParentSnapshot) error {
	parent, ok := tx.FindNode(snap.ParentID)
	if !ok {
		return nil
	}
	keep := make(map[int64]struct{}, len(snap.BeforeChildren))
	for _, c := range snap.BeforeChildren {
		keep[c.IDValue()] = struct{}{}
	}
	for _, c := range childrenOf(tx, parent.ID) {
		if _, ok := keep[c.ID]; ok {
			continue
		}
		if _, err := deleteSubtree(tx, c.ID); err != nil {
			return err
		}
	}
	for _, spec := range snap.BeforeChildren {
		if err := restoreSpec(tx, spec); err != nil {
			return err
		}
	}
	descendants := append([]ChildSpec(nil), snap.Descendants...)
	sort.SliceStable(descendants, func(i, j int) bool { return descendants[i].Depth < descendants[j].Depth })
	for _, spec := range descendants {
		if spec.ParentID == nil {
			continue
		}
		if _, ok := tx.FindNode(*spec.ParentID); !ok {
			continue
		}
		if err := restoreSpec(tx, spec); err != nil {
			return err
		}
	}
	return nil
}

func restoreSpec(tx Transaction, spec ChildSpec) error {
	want := spec.Node()
	if _, ok := tx.FindNode(want.ID); !ok {
		_, err := tx.CreateNode(want)
		return err
	}
	_, err := tx.UpdateNode(want.ID, func(n *Node) error {
		n.ParentID = want.ParentID
		n.Label = want.Label
		n.Depth = want.Depth
		n.Slot = want.Slot
		n.IsLeaf = want.IsLeaf
		return nil
	})
	return err
}
