package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"triagetree/internal/core"
)

func (c *cli) conflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "Detect structural conflicts",
	}
	summary := &cobra.Command{
		Use:   "summary",
		Short: "Count every class of conflict",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := c.svc.ConflictSummary(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.AddCommand(summary,
		pagedReport(c, "duplicates", "Sibling groups sharing a label", (*core.Service).DuplicateLabels),
		pagedReport(c, "fill", "Parents with fewer than five children", (*core.Service).FillAnomalies),
		pagedReport(c, "slots", "Parents with invalid or colliding slots", (*core.Service).SlotAnomalies),
		pagedReport(c, "orphans", "Children whose parent is missing", (*core.Service).Orphans),
		pagedReport(c, "depth", "Nodes whose depth disagrees with their parent", (*core.Service).DepthAnomalies),
		c.groupCmd(),
	)
	return cmd
}

// pagedReport builds a detector command; fn takes the service explicitly
// because it is only opened once the command runs.
func pagedReport[T any](c *cli, use, short string, fn func(*core.Service, context.Context, core.Page) (core.PageResult[T], error)) *cobra.Command {
	var page core.Page
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := fn(c.svc, cmd.Context(), page)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	addPageFlags(cmd, &page)
	return cmd
}

func (c *cli) groupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group <label>",
		Short: "Show the members of one conflict group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := groupKey(cmd, args[0])
			if err != nil {
				return err
			}
			res, err := c.svc.GetConflictGroup(cmd.Context(), key)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	addParentFlag(cmd)
	return cmd
}

func (c *cli) normalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "normalize <parent-id>",
		Short: "Renumber a parent's children into slots 1..n",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := c.svc.NormalizeParent(cmd.Context(), id, c.actor, expectedVersion(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	addExpectedFlag(cmd)
	return cmd
}

func (c *cli) mergeCmd() *cobra.Command {
	var keep int64
	cmd := &cobra.Command{
		Use:   "merge <label>",
		Short: "Fold duplicate siblings into the one given by --keep",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := groupKey(cmd, args[0])
			if err != nil {
				return err
			}
			if keep <= 0 {
				return usageError{fmt.Errorf("--keep is required")}
			}
			res, err := c.svc.MergeDuplicateParents(cmd.Context(), key, keep, c.actor)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().Int64Var(&keep, "keep", 0, "Node id that survives the merge")
	addParentFlag(cmd)
	return cmd
}

func (c *cli) resolveCmd() *cobra.Command {
	var (
		keep   int64
		chosen []string
	)
	cmd := &cobra.Command{
		Use:   "resolve <label>",
		Short: "Keep one group member and give it the chosen children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := groupKey(cmd, args[0])
			if err != nil {
				return err
			}
			if keep <= 0 {
				return usageError{fmt.Errorf("--keep is required")}
			}
			res, err := c.svc.ResolveConflictGroup(cmd.Context(), core.ResolveRequest{
				Key:             key,
				KeepID:          keep,
				Chosen:          chosen,
				Actor:           c.actor,
				ExpectedVersion: expectedVersion(cmd),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().Int64Var(&keep, "keep", 0, "Node id that survives the resolution")
	cmd.Flags().StringSliceVar(&chosen, "choose", nil, "Child labels for the kept node, in slot order")
	addParentFlag(cmd)
	addExpectedFlag(cmd)
	return cmd
}

func (c *cli) applyDefaultsCmd() *cobra.Command {
	var chosen []string
	cmd := &cobra.Command{
		Use:   "apply-defaults <label>",
		Short: "Give every node with the label the chosen children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := c.svc.ApplyDefaultChildrenForLabel(cmd.Context(), args[0], chosen, c.actor)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringSliceVar(&chosen, "choose", nil, "Child labels, in slot order")
	return cmd
}

func addParentFlag(cmd *cobra.Command) {
	cmd.Flags().Int64("parent", 0, "Parent id of the group (omit for roots)")
}

// groupKey builds a group key; an unset --parent selects the root group.
func groupKey(cmd *cobra.Command, label string) (core.GroupKey, error) {
	key := core.GroupKey{Label: label}
	if !cmd.Flags().Changed("parent") {
		return key, nil
	}
	id, _ := cmd.Flags().GetInt64("parent")
	if id <= 0 {
		return core.GroupKey{}, usageError{fmt.Errorf("invalid parent id %d", id)}
	}
	key.ParentID = &id
	return key, nil
}
