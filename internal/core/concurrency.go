package core

import (
	"context"
	"strconv"
	"strings"

	"triagetree/pkg/domain"
)

const versionHeaderPrefix = "version:"

// versionOf is the optimistic concurrency fingerprint of a node: its child
// count. Two different child sets of equal size share a version, so a
// conditional write can miss a concurrent change of that shape.
// TODO: replace with a per-node mutation counter once stored clients stop
// sending child-count versions.
func versionOf(v TransactionView, id int64) int {
	return len(childrenOf(v, id))
}

// checkExpectedVersion is the compare step of a conditional write. A nil
// expectation always matches.
func checkExpectedVersion(v TransactionView, id int64, expected *int) error {
	if expected == nil {
		return nil
	}
	current := versionOf(v, id)
	if current == *expected {
		return nil
	}
	return &domain.VersionConflictError{
		NodeID:   id,
		Expected: *expected,
		Current:  current,
		Hint:     "reload the node and retry with the current version",
	}
}

// GetVersion returns the fingerprint of a node. ok is false when the node
// does not exist.
func (s *Service) GetVersion(ctx context.Context, id int64) (NodeVersion, bool, error) {
	var (
		out NodeVersion
		ok  bool
	)
	err := s.run(ctx, "get_version", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			n, found := v.FindNode(id)
			if !found {
				return nil
			}
			ok = true
			out = NodeVersion{ID: n.ID, Version: versionOf(v, n.ID), UpdatedAt: n.UpdatedAt}
			return nil
		})
	})
	return out, ok, err
}

// CheckVersionMatch compares expected against the current fingerprint. A nil
// expectation always matches.
func (s *Service) CheckVersionMatch(ctx context.Context, id int64, expected *int) (bool, int, error) {
	var (
		matches bool
		current int
	)
	err := s.run(ctx, "check_version_match", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			if _, err := requireNode(v, id); err != nil {
				if expected == nil {
					matches = true
					return nil
				}
				return err
			}
			current = versionOf(v, id)
			matches = expected == nil || *expected == current
			return nil
		})
	})
	return matches, current, err
}

// ValidateConditionalHeader parses a conditional write header. It accepts a
// bare non-negative integer or "version:<int>", optionally quoted.
func ValidateConditionalHeader(value string) (int, bool) {
	raw := strings.TrimSpace(value)
	raw = strings.TrimPrefix(raw, "W/")
	raw = strings.Trim(raw, `"`)
	raw = strings.TrimSpace(raw)
	if len(raw) >= len(versionHeaderPrefix) && strings.EqualFold(raw[:len(versionHeaderPrefix)], versionHeaderPrefix) {
		raw = strings.TrimSpace(raw[len(versionHeaderPrefix):])
	}
	if raw == "" {
		return 0, false
	}
	version, err := strconv.Atoi(raw)
	if err != nil || version < 0 {
		return 0, false
	}
	return version, true
}
